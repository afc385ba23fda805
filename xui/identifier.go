package xui

import (
	"fmt"

	"github.com/multix-dev/multix/database/model"
)

// IdentifierField names the client field a panel keys its lookup, update,
// delete and traffic APIs on.
type IdentifierField string

const (
	FieldUUID     IdentifierField = "id"
	FieldPassword IdentifierField = "password"
	FieldEmail    IdentifierField = "email"
)

// ClientIdentifier is the protocol-tagged native identifier of a client on
// a panel. Carrying the protocol alongside the value forces every call
// site to select the right key field: UUID for vmess/vless, password for
// trojan, email for shadowsocks.
type ClientIdentifier struct {
	Protocol model.Protocol
	Field    IdentifierField
	Value    string
}

// FieldFor returns the identifier field a protocol is keyed on.
func FieldFor(protocol model.Protocol) (IdentifierField, error) {
	switch protocol {
	case model.VMESS, model.VLESS:
		return FieldUUID, nil
	case model.Trojan:
		return FieldPassword, nil
	case model.Shadowsocks:
		return FieldEmail, nil
	}
	return "", fmt.Errorf("unsupported protocol %q", protocol)
}

// NewIdentifier builds a ClientIdentifier for the given protocol and
// native value.
func NewIdentifier(protocol model.Protocol, value string) (ClientIdentifier, error) {
	field, err := FieldFor(protocol)
	if err != nil {
		return ClientIdentifier{}, err
	}
	return ClientIdentifier{Protocol: protocol, Field: field, Value: value}, nil
}

func (ci ClientIdentifier) String() string {
	return fmt.Sprintf("%s/%s=%s", ci.Protocol, ci.Field, ci.Value)
}

// Matches reports whether the given client carries this identifier.
func (ci ClientIdentifier) Matches(c *ClientConfig) bool {
	switch ci.Field {
	case FieldUUID:
		return c.ID == ci.Value
	case FieldPassword:
		return c.Password == ci.Value
	case FieldEmail:
		return c.Email == ci.Value
	}
	return false
}
