package domain

// ComplianceStatus classifies an instrument or venue under the platform
// allow-list policy. Anything that is not explicitly halal is treated as
// haram: the filter fails closed on unreviewed and unknown instruments.
type ComplianceStatus string

const (
	ComplianceHalal      ComplianceStatus = "halal"
	ComplianceHaram      ComplianceStatus = "haram"
	ComplianceUnreviewed ComplianceStatus = "unreviewed"
)

// Tradable reports whether the status admits an instrument into a route.
func (s ComplianceStatus) Tradable() bool {
	return s == ComplianceHalal
}

// Instrument is one tradable on-chain asset.
type Instrument struct {
	Symbol          string
	ChainID         int64
	ContractAddress string
	Status          ComplianceStatus
}
