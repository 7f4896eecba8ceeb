package dicom

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
)

// encodingByTerm maps Specific Character Set defined terms to their
// encodings. See PS3.3 C.12.1.1.2 for the list of defined terms.
var encodingByTerm = map[string]encoding.Encoding{
	"ISO_IR 100": charmap.ISO8859_1,
	"ISO_IR 101": charmap.ISO8859_2,
	"ISO_IR 109": charmap.ISO8859_3,
	"ISO_IR 110": charmap.ISO8859_4,
	"ISO_IR 144": charmap.ISO8859_5,
	"ISO_IR 127": charmap.ISO8859_6,
	"ISO_IR 126": charmap.ISO8859_7,
	"ISO_IR 138": charmap.ISO8859_8,
	"ISO_IR 148": charmap.ISO8859_9,
	"ISO_IR 13":  japanese.ShiftJIS,
	"ISO_IR 192": unicode.UTF8,
	"GB18030":    simplifiedchinese.GB18030,
	"GBK":        simplifiedchinese.GBK,

	"ISO 2022 IR 100": charmap.ISO8859_1,
	"ISO 2022 IR 101": charmap.ISO8859_2,
	"ISO 2022 IR 109": charmap.ISO8859_3,
	"ISO 2022 IR 110": charmap.ISO8859_4,
	"ISO 2022 IR 144": charmap.ISO8859_5,
	"ISO 2022 IR 127": charmap.ISO8859_6,
	"ISO 2022 IR 126": charmap.ISO8859_7,
	"ISO 2022 IR 138": charmap.ISO8859_8,
	"ISO 2022 IR 148": charmap.ISO8859_9,
	"ISO 2022 IR 13":  japanese.ShiftJIS,
	"ISO 2022 IR 87":  japanese.ISO2022JP,
	"ISO 2022 IR 159": japanese.ISO2022JP,
	"ISO 2022 IR 149": korean.EUCKR,
	"ISO 2022 IR 58":  simplifiedchinese.GBK,
}

// labelByTerm covers the terms resolved through WHATWG labels, which map
// ASCII and TIS-620 to their Windows supersets.
var labelByTerm = map[string]string{
	"ISO_IR 6":        "us-ascii",
	"ISO 2022 IR 6":   "us-ascii",
	"ISO_IR 166":      "tis-620",
	"ISO 2022 IR 166": "tis-620",
}

const esc = 0x1b

type escapeSequence struct {
	seq  string
	enc  encoding.Encoding
	keep bool
}

// escapeSequences lists the ISO 2022 designations that switch the
// repertoire within a value. ISO-2022-JP sequences are kept in front of the
// segment since that decoder tracks them itself.
var escapeSequences = []escapeSequence{
	{"\x1b(B", charmap.Windows1252, false},
	{"\x1b(J", charmap.Windows1252, false},
	{"\x1b)I", japanese.ShiftJIS, false},
	{"\x1b$B", japanese.ISO2022JP, true},
	{"\x1b$(D", japanese.ISO2022JP, true},
	{"\x1b$)C", korean.EUCKR, false},
	{"\x1b$)A", simplifiedchinese.GBK, false},
	{"\x1b-A", charmap.ISO8859_1, false},
	{"\x1b-B", charmap.ISO8859_2, false},
	{"\x1b-C", charmap.ISO8859_3, false},
	{"\x1b-D", charmap.ISO8859_4, false},
	{"\x1b-L", charmap.ISO8859_5, false},
	{"\x1b-G", charmap.ISO8859_6, false},
	{"\x1b-F", charmap.ISO8859_7, false},
	{"\x1b-H", charmap.ISO8859_8, false},
	{"\x1b-M", charmap.ISO8859_9, false},
	{"\x1b-T", charmap.Windows874, false},
}

// CharacterSet decodes and encodes text values of a dataset.
type CharacterSet struct {
	term     string
	iso2022  bool
	encoding encoding.Encoding
}

// DefaultCharacterSet is used until a Specific Character Set element is seen.
var DefaultCharacterSet = &CharacterSet{term: "", encoding: charmap.Windows1252}

func lookupEncoding(term string) (encoding.Encoding, error) {
	if enc, ok := encodingByTerm[term]; ok {
		return enc, nil
	}
	label, ok := labelByTerm[term]
	if !ok {
		return nil, fmt.Errorf("specific character set defined term not found: %v", term)
	}
	enc, _ := charset.Lookup(label)
	if enc == nil {
		return nil, fmt.Errorf("missing encoding for label %q", label)
	}
	return enc, nil
}

// LookupCharacterSet returns the character set for the defined terms of a
// Specific Character Set value. The first non-empty term selects the initial
// repertoire. When several terms are given, escape sequences inside values
// switch between them.
func LookupCharacterSet(terms []string) (*CharacterSet, error) {
	var cs *CharacterSet
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		enc, err := lookupEncoding(term)
		if err != nil {
			return nil, err
		}
		if cs == nil {
			cs = &CharacterSet{term: term, encoding: enc}
		}
	}
	if cs == nil {
		return DefaultCharacterSet, nil
	}
	cs.iso2022 = len(terms) > 1 || strings.HasPrefix(cs.term, "ISO 2022")
	return cs, nil
}

// Term returns the defined term, empty for the default repertoire.
func (c *CharacterSet) Term() string {
	return c.term
}

// Decode converts raw value bytes to a string.
func (c *CharacterSet) Decode(b []byte) (string, error) {
	if c.iso2022 && bytes.IndexByte(b, esc) >= 0 {
		return c.decodeExtensions(b)
	}
	out, err := c.encoding.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s text: %w", c.name(), err)
	}
	return string(out), nil
}

// decodeExtensions decodes each run between escape sequences with the
// repertoire the preceding sequence designates.
func (c *CharacterSet) decodeExtensions(b []byte) (string, error) {
	var sb strings.Builder
	enc := c.encoding
	for len(b) > 0 {
		skip := 0
		if b[0] == esc {
			i := slices.IndexFunc(escapeSequences, func(e escapeSequence) bool {
				return bytes.HasPrefix(b, []byte(e.seq))
			})
			if i < 0 {
				return "", fmt.Errorf("failed to decode %s text: unknown escape sequence % x", c.name(), b[:min(len(b), 4)])
			}
			e := escapeSequences[i]
			enc = e.enc
			if e.keep {
				skip = len(e.seq)
			} else {
				b = b[len(e.seq):]
			}
		}

		end := len(b)
		if i := bytes.IndexByte(b[skip:], esc); i >= 0 {
			end = skip + i
		}
		out, err := enc.NewDecoder().Bytes(b[:end])
		if err != nil {
			return "", fmt.Errorf("failed to decode %s text: %w", c.name(), err)
		}
		sb.Write(out)
		b = b[end:]
	}
	return sb.String(), nil
}

// Encode converts s to raw value bytes with the initial repertoire.
func (c *CharacterSet) Encode(s string) ([]byte, error) {
	out, err := c.encoding.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s text: %w", c.name(), err)
	}
	return out, nil
}

func (c *CharacterSet) name() string {
	if c.term == "" {
		return "default"
	}
	return c.term
}
