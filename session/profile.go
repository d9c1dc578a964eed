package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrMalformedCredentials is returned for a blank user id or token.
	ErrMalformedCredentials = errors.New("malformed credentials")

	// ErrLoginRequired is returned by RequireLogin when nobody is signed in.
	ErrLoginRequired = errors.New("login required")
)

const rootPermission = "root"

// Permissions is either the "root" wildcard or a list of named permissions.
type Permissions struct {
	Root bool
	List []string
}

func (p Permissions) MarshalJSON() ([]byte, error) {
	if p.Root {
		return json.Marshal(rootPermission)
	}

	if p.List == nil {
		return []byte("null"), nil
	}

	return json.Marshal(p.List)
}

func (p *Permissions) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case bytes.Equal(data, []byte("null")):
		*p = Permissions{}
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		if s != rootPermission {
			return fmt.Errorf("unknown permission wildcard %q", s)
		}

		*p = Permissions{Root: true}
	default:
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}

		*p = Permissions{List: list}
	}

	return nil
}

// Has reports whether the permission is granted, root granting everything.
func (p Permissions) Has(permission string) bool {
	if p.Root {
		return true
	}

	for _, granted := range p.List {
		if granted == permission {
			return true
		}
	}

	return false
}

// Profile is the signed-in user.
type Profile struct {
	ID            string      `json:"id"`
	FullName      string      `json:"fullName"`
	PhoneNumber   int64       `json:"phoneNumber,omitempty"`
	Gender        string      `json:"gender,omitempty"`
	Country       string      `json:"country,omitempty"`
	Token         string      `json:"token,omitempty"`
	Permissions   Permissions `json:"permissions"`
	Email         string      `json:"email,omitempty"`
	Province      string      `json:"province,omitempty"`
	City          string      `json:"city,omitempty"`
	Address       string      `json:"address,omitempty"`
	PostalCode    string      `json:"postalCode,omitempty"`
	ShopName      string      `json:"shopName,omitempty"`
	PriceListName string      `json:"priceListName,omitempty"`
}

// Credentials identify a login attempt. UserID may be empty when only a token is known.
type Credentials struct {
	UserID string
	Token  string
}

func normalize(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

// ParseFragment reads "<userID>/<token>" as found in a location hash, with or without
// the leading "#". Both parts are NFKC-normalized and must be non-blank.
func ParseFragment(fragment string) (Credentials, error) {
	userID, token, found := strings.Cut(strings.TrimPrefix(fragment, "#"), "/")
	if !found {
		return Credentials{}, fmt.Errorf("%w: expected <user>/<token>", ErrMalformedCredentials)
	}

	creds := Credentials{UserID: normalize(userID), Token: normalize(token)}

	if creds.UserID == "" || creds.Token == "" {
		return Credentials{}, fmt.Errorf("%w: user id and token are required", ErrMalformedCredentials)
	}

	return creds, nil
}
