package settings

import "strings"

type Interfaces []Interface

// InterfaceID resolves a configured interface name, ignoring case.
func (is Interfaces) InterfaceID(name string) (int, bool) {
	for _, i := range is {
		if strings.EqualFold(i.Name, name) {
			return i.InterfaceID, true
		}
	}
	return 0, false
}
