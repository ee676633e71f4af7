package common

type Domain string

const (
	DomainPortForward Domain = "port-forward"
	DomainNAT         Domain = "nat"
	DomainBypass      Domain = "bypass"
)

var Domains = []Domain{DomainPortForward, DomainNAT, DomainBypass}

func (d Domain) Valid() bool {
	switch d {
	case DomainPortForward, DomainNAT, DomainBypass:
		return true
	}
	return false
}

// Action is the payload a matched rule hands back to the caller.
type Action interface {
	Domain() Domain
	String() string
}
