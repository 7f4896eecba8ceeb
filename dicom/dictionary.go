package dicom

import (
	"fmt"
	"strings"
	"sync"

	dcmtag "github.com/suyashkumar/dicom/pkg/tag"

	"github.com/caio-sobreiro/dcmstream/types"
)

// DictionaryEntry describes one known tag.
type DictionaryEntry struct {
	Tag  types.Tag
	VR   types.VR
	Name string
}

// Dictionary resolves default VRs and names. Entries registered locally take
// precedence over the standard data dictionary.
type Dictionary struct {
	mu      sync.RWMutex
	entries map[uint32]DictionaryEntry
	private map[string]DictionaryEntry
}

// DefaultDictionary is used by readers that are not given one.
var DefaultDictionary = NewDictionary()

// NewDictionary creates a dictionary preloaded with the command and file
// meta groups.
func NewDictionary() *Dictionary {
	d := &Dictionary{
		entries: make(map[uint32]DictionaryEntry),
		private: make(map[string]DictionaryEntry),
	}
	for _, e := range builtinEntries {
		d.Register(e)
	}
	return d
}

var builtinEntries = []DictionaryEntry{
	{types.CommandGroupLengthTag, types.VR_UL, "CommandGroupLength"},
	{types.AffectedSOPClassUIDTag, types.VR_UI, "AffectedSOPClassUID"},
	{types.RequestedSOPClassUIDTag, types.VR_UI, "RequestedSOPClassUID"},
	{types.CommandFieldTag, types.VR_US, "CommandField"},
	{types.MessageIDTag, types.VR_US, "MessageID"},
	{types.MessageIDBeingRespondedToTag, types.VR_US, "MessageIDBeingRespondedTo"},
	{types.MoveDestinationTag, types.VR_AE, "MoveDestination"},
	{types.PriorityTag, types.VR_US, "Priority"},
	{types.CommandDataSetTypeTag, types.VR_US, "CommandDataSetType"},
	{types.StatusTag, types.VR_US, "Status"},
	{types.OffendingElementTag, types.VR_AT, "OffendingElement"},
	{types.ErrorCommentTag, types.VR_LO, "ErrorComment"},
	{types.ErrorIDTag, types.VR_US, "ErrorID"},
	{types.AffectedSOPInstanceUIDTag, types.VR_UI, "AffectedSOPInstanceUID"},
	{types.RequestedSOPInstanceUIDTag, types.VR_UI, "RequestedSOPInstanceUID"},
	{types.EventTypeIDTag, types.VR_US, "EventTypeID"},
	{types.AttributeIdentifierListTag, types.VR_AT, "AttributeIdentifierList"},
	{types.ActionTypeIDTag, types.VR_US, "ActionTypeID"},
	{types.NumberOfRemainingSuboperationsTag, types.VR_US, "NumberOfRemainingSuboperations"},
	{types.NumberOfCompletedSuboperationsTag, types.VR_US, "NumberOfCompletedSuboperations"},
	{types.NumberOfFailedSuboperationsTag, types.VR_US, "NumberOfFailedSuboperations"},
	{types.NumberOfWarningSuboperationsTag, types.VR_US, "NumberOfWarningSuboperations"},
	{types.MoveOriginatorAETitleTag, types.VR_AE, "MoveOriginatorApplicationEntityTitle"},
	{types.MoveOriginatorMessageIDTag, types.VR_US, "MoveOriginatorMessageID"},

	{types.FileMetaInformationGroupLengthTag, types.VR_UL, "FileMetaInformationGroupLength"},
	{types.FileMetaInformationVersionTag, types.VR_OB, "FileMetaInformationVersion"},
	{types.MediaStorageSOPClassUIDTag, types.VR_UI, "MediaStorageSOPClassUID"},
	{types.MediaStorageSOPInstanceUIDTag, types.VR_UI, "MediaStorageSOPInstanceUID"},
	{types.TransferSyntaxUIDTag, types.VR_UI, "TransferSyntaxUID"},
	{types.ImplementationClassUIDTag, types.VR_UI, "ImplementationClassUID"},
	{types.ImplementationVersionNameTag, types.VR_SH, "ImplementationVersionName"},
	{types.SourceApplicationEntityTitleTag, types.VR_AE, "SourceApplicationEntityTitle"},

	{types.PixelDataTag, types.VR_OW, "PixelData"},
}

// Register adds or replaces an entry. Entries with a creator are matched
// against private tags carrying the same creator and low element byte.
func (d *Dictionary) Register(entry DictionaryEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry.Tag.Creator != "" {
		d.private[privateKey(entry.Tag)] = entry
		return
	}
	d.entries[entry.Tag.Uint32()] = entry
}

func privateKey(t types.Tag) string {
	return fmt.Sprintf("%s|%04x|%02x", t.Creator, t.Group, t.Element&0xFF)
}

// Lookup finds the entry for tag.
func (d *Dictionary) Lookup(t types.Tag) (DictionaryEntry, bool) {
	switch {
	case t.IsGroupLength():
		return DictionaryEntry{Tag: t, VR: types.VR_UL, Name: "GroupLength"}, true
	case t.IsPrivateCreator():
		return DictionaryEntry{Tag: t, VR: types.VR_LO, Name: "PrivateCreator"}, true
	case t.IsDelimiter():
		return DictionaryEntry{Tag: t, VR: types.VR_NONE, Name: delimiterName(t)}, true
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if t.IsPrivate() {
		if t.Creator == "" {
			return DictionaryEntry{}, false
		}
		e, ok := d.private[privateKey(t)]
		return e, ok
	}
	if e, ok := d.entries[t.Uint32()]; ok {
		return e, true
	}
	return lookupStandard(t)
}

// lookupStandard consults the standard data dictionary. Repeating groups
// (curves and overlays) are folded onto their base group.
func lookupStandard(t types.Tag) (DictionaryEntry, bool) {
	info, err := dcmtag.Find(dcmtag.Tag{Group: t.Group, Element: t.Element})
	if err != nil && (t.Group&0xFF00 == 0x5000 || t.Group&0xFF00 == 0x6000) {
		info, err = dcmtag.Find(dcmtag.Tag{Group: t.Group & 0xFF00, Element: t.Element})
	}
	if err != nil {
		return DictionaryEntry{}, false
	}
	return DictionaryEntry{Tag: t, VR: pickVR(strings.Split(info.VR, " or ")), Name: info.Name}, true
}

// pickVR chooses the default for tags listed with several VRs, e.g. "OB or OW"
// and "US or SS".
func pickVR(vrs []string) types.VR {
	if len(vrs) == 0 {
		return types.VR_UN
	}
	for _, pref := range []string{"OW", "US"} {
		for _, v := range vrs {
			if v == pref {
				return types.VR(pref)
			}
		}
	}
	if vr, ok := types.ParseVR(vrs[0]); ok {
		return vr
	}
	return types.VR_UN
}

func delimiterName(t types.Tag) string {
	switch t {
	case types.ItemTag:
		return "Item"
	case types.ItemDelimitationItemTag:
		return "ItemDelimitationItem"
	case types.SequenceDelimitationItemTag:
		return "SequenceDelimitationItem"
	}
	return "Delimiter"
}

// DefaultVR returns the dictionary VR for tag, or UN when it is unknown.
func (d *Dictionary) DefaultVR(t types.Tag) types.VR {
	if e, ok := d.Lookup(t); ok {
		return e.VR
	}
	return types.VR_UN
}

// Name returns the keyword for tag, or an empty string.
func (d *Dictionary) Name(t types.Tag) string {
	if e, ok := d.Lookup(t); ok {
		return e.Name
	}
	return ""
}

// LookupName finds the entry whose keyword is name, e.g. "PatientName".
func (d *Dictionary) LookupName(name string) (DictionaryEntry, bool) {
	d.mu.RLock()
	for _, e := range d.entries {
		if e.Name == name {
			d.mu.RUnlock()
			return e, true
		}
	}
	d.mu.RUnlock()

	info, err := dcmtag.FindByName(name)
	if err != nil {
		return DictionaryEntry{}, false
	}
	t := types.Tag{Group: info.Tag.Group, Element: info.Tag.Element}
	return DictionaryEntry{Tag: t, VR: pickVR(strings.Split(info.VR, " or ")), Name: info.Name}, true
}
