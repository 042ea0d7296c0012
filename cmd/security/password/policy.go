package password

import "unicode/utf8"

// Validate applies the length policy to a candidate password. Lengths are
// counted in runes, not bytes, so multibyte characters are not penalized.
//
// There is deliberately no strength heuristic here: passwords are optional
// in this product (a login may bind one on first use), and server-side
// pattern guessing rejects real passphrases more often than weak ones.
func (c Config) Validate(pw string) error {
	switch n := utf8.RuneCountInString(pw); {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	}
	return nil
}
