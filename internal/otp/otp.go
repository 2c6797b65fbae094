// Package otp derives time-based one-time passwords from otpauth seeds.
// Given a seed and the current wall-clock second it yields the token and
// the instant the token stops being valid.
package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultDigits = 6
	defaultPeriod = 30
)

// ErrInvalidURL is returned when an otpauth URL cannot be interpreted.
var ErrInvalidURL = errors.New("invalid otpauth url")

// TOTP holds the parameters of a time-based one-time password seed.
type TOTP struct {
	secret []byte
	digits int
	period int64
	hasher func() hash.Hash
}

// Parse interprets an otpauth://totp/ URL. Only the fields the token
// derivation needs are read; label and issuer are ignored.
func Parse(rawURL string) (*TOTP, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "otpauth" || u.Host != "totp" {
		return nil, fmt.Errorf("%w: not a totp url", ErrInvalidURL)
	}

	query := u.Query()
	secret := strings.ToUpper(strings.TrimSpace(query.Get("secret")))
	if secret == "" {
		return nil, fmt.Errorf("%w: missing secret", ErrInvalidURL)
	}
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(secret, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: bad secret encoding: %v", ErrInvalidURL, err)
	}

	t := &TOTP{secret: key, digits: defaultDigits, period: defaultPeriod, hasher: sha1.New}

	if digits := query.Get("digits"); digits != "" {
		n, err := strconv.Atoi(digits)
		if err != nil || n < 6 || n > 10 {
			return nil, fmt.Errorf("%w: bad digits %q", ErrInvalidURL, digits)
		}
		t.digits = n
	}
	if period := query.Get("period"); period != "" {
		n, err := strconv.ParseInt(period, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: bad period %q", ErrInvalidURL, period)
		}
		t.period = n
	}
	switch strings.ToUpper(query.Get("algorithm")) {
	case "", "SHA1":
	case "SHA256":
		t.hasher = sha256.New
	case "SHA512":
		t.hasher = sha512.New
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidURL, query.Get("algorithm"))
	}

	return t, nil
}

// Generate yields the token for the given instant and the instant the
// token expires.
func (t *TOTP) Generate(now time.Time) (string, time.Time) {
	counter := now.Unix() / t.period
	expiresAt := time.Unix((counter+1)*t.period, 0)

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(t.hasher, t.secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation per RFC 4226.
	offset := sum[len(sum)-1] & 0x0F
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF

	mod := uint32(1)
	for i := 0; i < t.digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", t.digits, code%mod), expiresAt
}

// GenerateURL is the one-call form: parse the otpauth URL and derive the
// token for the given instant.
func GenerateURL(rawURL string, now time.Time) (string, time.Time, error) {
	t, err := Parse(rawURL)
	if err != nil {
		return "", time.Time{}, err
	}
	token, expiresAt := t.Generate(now)
	return token, expiresAt, nil
}
