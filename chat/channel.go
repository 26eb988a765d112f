package chat

import (
	"fmt"
	"strings"
)

type Channel string

const (
	ChannelWhatsAppDirect Channel = "whatsapp-direct"
	ChannelWhatsAppMirror Channel = "whatsapp-mirror"
	ChannelInstagram      Channel = "instagram"
	ChannelFacebook       Channel = "facebook"
)

// FamilyWhatsApp is shared by the direct and mirrored WhatsApp channels so a
// contact reachable through both resolves to the same identity key.
const FamilyWhatsApp = "whatsapp"

var mirrorChannels = []Channel{ChannelWhatsAppMirror, ChannelInstagram, ChannelFacebook}

func (c Channel) Family() string {
	switch c {
	case ChannelWhatsAppDirect, ChannelWhatsAppMirror:
		return FamilyWhatsApp
	default:
		return string(c)
	}
}

func (c Channel) IsMirror() bool {
	return c != ChannelWhatsAppDirect
}

func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsAppDirect, ChannelWhatsAppMirror, ChannelInstagram, ChannelFacebook:
		return true
	}
	return false
}

// MirrorChannel maps the channel name reported by the inbox aggregator.
func MirrorChannel(name string) Channel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "instagram", "ig":
		return ChannelInstagram
	case "facebook", "messenger", "fb":
		return ChannelFacebook
	default:
		return ChannelWhatsAppMirror
	}
}

// IdentityKey identifies a conversation across both stores.
type IdentityKey struct {
	Family  string
	Address string
}

func KeyFor(channel Channel, address string) IdentityKey {
	return IdentityKey{
		Family:  channel.Family(),
		Address: NormalizeAddress(channel, address),
	}
}

func (k IdentityKey) String() string {
	return k.Family + ":" + k.Address
}

func (k IdentityKey) IsZero() bool {
	return k.Family == "" && k.Address == ""
}

func (k IdentityKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *IdentityKey) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentityKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func ParseIdentityKey(s string) (IdentityKey, error) {
	family, address, ok := strings.Cut(s, ":")
	if !ok || family == "" || address == "" {
		return IdentityKey{}, fmt.Errorf("invalid identity key %q", s)
	}
	return IdentityKey{Family: family, Address: address}, nil
}

// NormalizeAddress canonicalizes an address for key comparison. WhatsApp
// numbers lose separators and gain a leading "+" when they are all digits;
// other channels only trim whitespace.
func NormalizeAddress(channel Channel, address string) string {
	address = strings.TrimSpace(address)
	if channel.Family() != FamilyWhatsApp {
		return address
	}

	var b strings.Builder
	for _, r := range address {
		switch r {
		case ' ', '-', '.', '(', ')':
			continue
		}
		b.WriteRune(r)
	}
	cleaned := b.String()

	if cleaned != "" && isDigits(cleaned) {
		return "+" + cleaned
	}
	return cleaned
}

// IsPhoneNumber reports whether address looks like an E.164 number, with or
// without the leading plus.
func IsPhoneNumber(address string) bool {
	address = strings.TrimPrefix(strings.TrimSpace(address), "+")
	return len(address) >= 6 && isDigits(address)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
