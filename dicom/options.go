package dicom

// ReadOptions controls how a StreamReader interprets its input.
type ReadOptions uint32

const (
	// KeepGroupLengths keeps (gggg,0000) elements instead of dropping them.
	KeepGroupLengths ReadOptions = 1 << iota
	// UseDictionaryForExplicitUN replaces an explicit UN with the dictionary VR.
	UseDictionaryForExplicitUN
	// AllowSeekingForContext lets the reader look ahead and back, e.g. to
	// parse undefined length items eagerly or to classify private UN values.
	AllowSeekingForContext
	// DeferLoadingLargeElements leaves large values on disk when reading a file.
	DeferLoadingLargeElements
	// DeferLoadingPixelData leaves pixel data on disk when reading a file.
	DeferLoadingPixelData
	// ForcePrivateCreatorToLO reads private creator elements as LO.
	ForcePrivateCreatorToLO
	// FileMetaInfoOnly stops at the first element outside group 0002.
	FileMetaInfoOnly
	// SequenceItemOnly stops at the item delimiter; used for nested items.
	SequenceItemOnly
)

const (
	DefaultReadOptions = UseDictionaryForExplicitUN | AllowSeekingForContext |
		DeferLoadingLargeElements | DeferLoadingPixelData | ForcePrivateCreatorToLO

	DefaultReadOptionsWithoutDeferredLoading = UseDictionaryForExplicitUN |
		AllowSeekingForContext | ForcePrivateCreatorToLO
)

// Has reports whether every bit of flag is set.
func (o ReadOptions) Has(flag ReadOptions) bool {
	return o&flag == flag
}

// WriteOptions controls how a StreamWriter lays out sequences and groups.
type WriteOptions uint32

const (
	// CalculateGroupLengths emits a (gggg,0000) element ahead of every group.
	CalculateGroupLengths WriteOptions = 1 << iota
	// ExplicitLengthSequence writes sequences with a computed length instead
	// of a sequence delimiter.
	ExplicitLengthSequence
	// ExplicitLengthSequenceItem writes items with a computed length instead
	// of an item delimiter.
	ExplicitLengthSequenceItem
	// WriteFragmentOffsetTable writes the basic offset table of fragment
	// sequences; without it the table item is empty.
	WriteFragmentOffsetTable
)

const DefaultWriteOptions = CalculateGroupLengths | WriteFragmentOffsetTable

// Has reports whether every bit of flag is set.
func (o WriteOptions) Has(flag WriteOptions) bool {
	return o&flag == flag
}
