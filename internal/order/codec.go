package order

import (
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/rajasatyajit/EstateHub/internal/errors"
)

// MaxEncodedLen bounds an encoded descriptor; both gateways truncate longer order info.
const MaxEncodedLen = 120

const (
	prefix   = "EH1"
	sep      = "-"
	checksum = 'C'
)

var (
	planCodes = map[Plan]string{
		PlanPro1:       "1",
		PlanPro3:       "3",
		PlanPro12:      "12",
		PlanMembership: "M",
	}
	kindCodes = map[Kind]string{
		KindMembership:   "M",
		KindAgentProfile: "A",
	}
)

// DecodeError describes why an order string was rejected.
type DecodeError struct {
	Input  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed order descriptor %q: %s", e.Input, e.Reason)
}

func (e *DecodeError) Unwrap() error { return apperrors.ErrMalformedOrder }

// Encode renders d as a gateway-safe token:
//
//	EH1-U<user>-P<plan>-K<kind>-A<amount>[-D<draft>]-C<crc32>
//
// The decimal point of the amount is written as '_' so the token stays
// within [0-9A-Za-z_-].
func Encode(d Descriptor) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(sep + "U" + strconv.FormatInt(d.UserID, 10))
	b.WriteString(sep + "P" + planCodes[d.Plan])
	b.WriteString(sep + "K" + kindCodes[d.Kind])
	b.WriteString(sep + "A" + strings.ReplaceAll(d.Amount.String(), ".", "_"))
	if d.DraftID != "" {
		b.WriteString(sep + "D" + d.DraftID)
	}
	body := b.String()
	out := fmt.Sprintf("%s%s%c%08x", body, sep, checksum, crc32.ChecksumIEEE([]byte(body)))

	if len(out) > MaxEncodedLen {
		return "", apperrors.ValidationError{Field: "order", Message: fmt.Sprintf("encoded length %d exceeds %d", len(out), MaxEncodedLen)}
	}
	return out, nil
}

// Decode parses a token produced by Encode. Fields between the prefix and
// the checksum may come in any order; each must appear once.
func Decode(raw string) (Descriptor, error) {
	s := strings.TrimSpace(raw)
	fail := func(format string, args ...any) (Descriptor, error) {
		return Descriptor{}, &DecodeError{Input: raw, Reason: fmt.Sprintf(format, args...)}
	}

	if s == "" {
		return fail("empty")
	}
	if len(s) > MaxEncodedLen {
		return fail("longer than %d characters", MaxEncodedLen)
	}
	for i := 0; i < len(s); i++ {
		if !tokenChar(s[i]) {
			return fail("invalid character at offset %d", i)
		}
	}

	parts := strings.Split(s, sep)
	if parts[0] != prefix {
		return fail("unknown prefix %q", parts[0])
	}
	if len(parts) < 3 {
		return fail("truncated")
	}

	last := parts[len(parts)-1]
	if len(last) != 9 || last[0] != checksum {
		return fail("missing checksum")
	}
	want, err := strconv.ParseUint(last[1:], 16, 32)
	if err != nil {
		return fail("bad checksum %q", last[1:])
	}
	body := s[:len(s)-len(last)-len(sep)]
	if crc32.ChecksumIEEE([]byte(body)) != uint32(want) {
		return fail("checksum mismatch")
	}

	fields := make(map[byte]string, 5)
	for _, p := range parts[1 : len(parts)-1] {
		if p == "" {
			return fail("empty field")
		}
		tag, val := p[0], p[1:]
		switch tag {
		case 'U', 'P', 'K', 'A', 'D':
		case checksum:
			return fail("checksum must be last")
		default:
			return fail("unknown field %q", string(tag))
		}
		if _, dup := fields[tag]; dup {
			return fail("duplicate field %q", string(tag))
		}
		fields[tag] = val
	}

	for _, tag := range []byte{'U', 'P', 'K', 'A'} {
		if _, ok := fields[tag]; !ok {
			return fail("missing field %q", string(tag))
		}
	}

	var d Descriptor

	if !digits(fields['U']) {
		return fail("bad user id")
	}
	d.UserID, err = strconv.ParseInt(fields['U'], 10, 64)
	if err != nil || d.UserID <= 0 {
		return fail("bad user id")
	}

	if d.Plan = planFromCode(fields['P']); d.Plan == PlanNone {
		return fail("unknown plan %q", fields['P'])
	}
	if d.Kind = kindFromCode(fields['K']); d.Kind == "" {
		return fail("unknown kind %q", fields['K'])
	}

	amount := fields['A']
	whole, frac, hasFrac := strings.Cut(amount, "_")
	if !digits(whole) || (hasFrac && !digits(frac)) {
		return fail("bad amount %q", amount)
	}
	d.Amount, err = decimal.NewFromString(strings.Replace(amount, "_", ".", 1))
	if err != nil {
		return fail("bad amount %q", amount)
	}

	if draft, ok := fields['D']; ok {
		d.DraftID = draft
	}

	if err := d.Validate(); err != nil {
		return fail("%v", err)
	}
	return d, nil
}

func planFromCode(code string) Plan {
	for p, c := range planCodes {
		if c == code {
			return p
		}
	}
	return PlanNone
}

func kindFromCode(code string) Kind {
	for k, c := range kindCodes {
		if c == code {
			return k
		}
	}
	return ""
}

func tokenChar(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || c == '-'
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
