package dicom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharacterSet_Decode(t *testing.T) {
	tests := []struct {
		name  string
		terms []string
		raw   string
		want  string
	}{
		{
			name:  "utf-8",
			terms: []string{"ISO_IR 192"},
			raw:   "M\xc3\xbcller",
			want:  "Müller",
		},
		{
			name:  "latin-1",
			terms: []string{"ISO_IR 100"},
			raw:   "M\xfcller",
			want:  "Müller",
		},
		{
			name:  "japanese with JIS X 0208 extension",
			terms: []string{"", "ISO 2022 IR 87"},
			raw:   "Yamada^Taro=\x1b$B;3ED\x1b(B^\x1b$BB@O:\x1b(B=\x1b$B$d$^$@\x1b(B^\x1b$B$?$m$&\x1b(B",
			want:  "Yamada^Taro=山田^太郎=やまだ^たろう",
		},
		{
			name:  "korean with KS X 1001 extension",
			terms: []string{"", "ISO 2022 IR 149"},
			raw:   "Hong^Gildong=\x1b$)C\xfb\xf3^\x1b$)C\xd1\xce\xd4\xd7=\x1b$)C\xc8\xab^\x1b$)C\xb1\xe6\xb5\xbf",
			want:  "Hong^Gildong=洪^吉洞=홍^길동",
		},
		{
			name:  "latin-1 designated by escape",
			terms: []string{"ISO 2022 IR 6", "ISO 2022 IR 100"},
			raw:   "M\x1b-A\xfcller",
			want:  "Müller",
		},
		{
			name:  "gb18030",
			terms: []string{"GB18030"},
			raw:   "Wang^XiaoDong=\xcd\xf5^\xd0\xa1\xb6\xab",
			want:  "Wang^XiaoDong=王^小东",
		},
		{
			name:  "escape ignored without extensions",
			terms: []string{"ISO_IR 192"},
			raw:   "a\x1bb",
			want:  "a\x1bb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := LookupCharacterSet(tt.terms)
			require.NoError(t, err)
			got, err := cs.Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCharacterSet_UnknownEscape(t *testing.T) {
	cs, err := LookupCharacterSet([]string{"", "ISO 2022 IR 87"})
	require.NoError(t, err)
	_, err = cs.Decode([]byte("A\x1b%GB"))
	assert.Error(t, err)
}

func TestCharacterSet_Encode(t *testing.T) {
	tests := []struct {
		term string
		text string
		want string
	}{
		{"ISO_IR 100", "Müller", "M\xfcller"},
		{"ISO_IR 13", "ｱ", "\xb1"},
		{"GB18030", "王", "\xcd\xf5"},
		{"ISO_IR 6", "DOE", "DOE"},
		{"ISO_IR 166", "ก", "\xa1"},
	}

	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			cs, err := LookupCharacterSet([]string{tt.term})
			require.NoError(t, err)
			got, err := cs.Encode(tt.text)
			require.NoError(t, err)
			assert.Equal(t, []byte(tt.want), got)
		})
	}
}
