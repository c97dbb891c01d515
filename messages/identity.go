package messages

import (
	"fmt"
	"net"
	"strconv"
)

// Identity identifies a node in the game network. It doubles as a network
// endpoint and as a map key: two identities are the same node when their
// IP and Port match, the Name is cosmetic and never compared.
type Identity struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
	Name string `json:"name,omitempty"`
}

// Addr returns the dialable "ip:port" form of the identity.
func (id Identity) Addr() string {
	return net.JoinHostPort(id.IP, strconv.Itoa(id.Port))
}

// Key returns the value used to index maps by identity. It ignores Name,
// so a node keeps its key across renames and reconnections.
func (id Identity) Key() string {
	return id.Addr()
}

// Equal reports whether both identities point at the same endpoint.
func (id Identity) Equal(other Identity) bool {
	return id.IP == other.IP && id.Port == other.Port
}

func (id Identity) String() string {
	if id.Name == "" {
		return id.Addr()
	}
	return fmt.Sprintf("%s (%s)", id.Name, id.Addr())
}
