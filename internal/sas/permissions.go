package sas

import (
	"fmt"
	"strings"
)

// Permissions is an unordered combination of blob access rights. The string
// form uses the storage platform's single-letter codes in its canonical
// "racwdl" ordering, which is the order the signing routine expects.
type Permissions struct {
	Read   bool
	Add    bool
	Create bool
	Write  bool
	Delete bool
	List   bool
}

// Common permission sets.
var (
	// ReadOnly is the display/download permission set.
	ReadOnly = Permissions{Read: true}

	// WriteOnly is the minimal upload permission set. Whole-object PUT needs
	// only "w"; "c" is accepted by the upload route policy but not defaulted.
	WriteOnly = Permissions{Write: true}

	// UploadPolicy is the widest permission set the upload route will sign.
	UploadPolicy = Permissions{Create: true, Write: true}
)

// ParsePermissions converts a permission code string such as "w" or "rl" into
// a Permissions value. Unknown or duplicated letters are an error.
func ParsePermissions(s string) (Permissions, error) {
	var p Permissions
	for _, c := range strings.ToLower(s) {
		var field *bool
		switch c {
		case 'r':
			field = &p.Read
		case 'a':
			field = &p.Add
		case 'c':
			field = &p.Create
		case 'w':
			field = &p.Write
		case 'd':
			field = &p.Delete
		case 'l':
			field = &p.List
		default:
			return Permissions{}, fmt.Errorf("unknown permission code %q", string(c))
		}
		if *field {
			return Permissions{}, fmt.Errorf("duplicate permission code %q", string(c))
		}
		*field = true
	}
	return p, nil
}

// String returns the permission codes in canonical order.
func (p Permissions) String() string {
	var b strings.Builder
	if p.Read {
		b.WriteByte('r')
	}
	if p.Add {
		b.WriteByte('a')
	}
	if p.Create {
		b.WriteByte('c')
	}
	if p.Write {
		b.WriteByte('w')
	}
	if p.Delete {
		b.WriteByte('d')
	}
	if p.List {
		b.WriteByte('l')
	}
	return b.String()
}

// IsZero reports whether no permission is set.
func (p Permissions) IsZero() bool {
	return p == Permissions{}
}

// SubsetOf reports whether every permission in p is also in q. Route policies
// use this to refuse tokens wider than the route allows.
func (p Permissions) SubsetOf(q Permissions) bool {
	return (!p.Read || q.Read) &&
		(!p.Add || q.Add) &&
		(!p.Create || q.Create) &&
		(!p.Write || q.Write) &&
		(!p.Delete || q.Delete) &&
		(!p.List || q.List)
}
