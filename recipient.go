package mboxstore

import "strings"

// Recipient is a delivery address reduced to the mailbox it names.
type Recipient struct {
	// Address is the recipient with any "+extension" removed and the
	// domain lower-cased, as used to pick the mbox file.
	Address string

	LocalPart string
	Domain    string

	// Extension is the text between the first '+' and the '@', if any.
	Extension string
}

// ParseRecipient splits a subaddressed recipient such as
// user+folder@Example.com into user@example.com and "folder".
// Local parts keep their case.
func ParseRecipient(email string) Recipient {
	local, domain := email, ""
	hasDomain := false
	if idx := strings.LastIndex(email, "@"); idx >= 0 {
		local, domain, hasDomain = email[:idx], strings.ToLower(email[idx+1:]), true
	}

	base, ext, _ := strings.Cut(local, "+")
	r := Recipient{LocalPart: base, Domain: domain, Extension: ext, Address: base}
	if hasDomain {
		r.Address = base + "@" + domain
	}
	return r
}

// Valid reports whether the recipient names a mailbox at all. An address
// that is only an extension, such as "+ext@example.com", does not.
func (r Recipient) Valid() bool {
	return r.LocalPart != ""
}
