package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dcmstream/dicom"
	"github.com/caio-sobreiro/dcmstream/types"
)

// queryOpts are the identifier flags shared by find and move.
type queryOpts struct {
	level string
	model string
	keys  []string
}

func (o *queryOpts) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.level, "level", "L", "STUDY", "query/retrieve level: PATIENT, STUDY, SERIES or IMAGE")
	cmd.Flags().StringVarP(&o.model, "model", "m", "study", "information model: study or patient root")
	cmd.Flags().StringArrayVarP(&o.keys, "key", "k", nil, "matching or return key as KEYWORD[=VALUE] or gggg,eeee[=VALUE]")
}

// sopClass returns the FIND or MOVE SOP class of the chosen model.
func (o *queryOpts) sopClass(move bool) (string, error) {
	switch strings.ToLower(o.model) {
	case "study":
		if move {
			return types.StudyRootQueryRetrieveInformationModelMove, nil
		}
		return types.StudyRootQueryRetrieveInformationModelFind, nil
	case "patient":
		if move {
			return types.PatientRootQueryRetrieveInformationModelMove, nil
		}
		return types.PatientRootQueryRetrieveInformationModelFind, nil
	}
	return "", fmt.Errorf("unknown information model %q", o.model)
}

// identifier builds the query dataset from the level and keys.
func (o *queryOpts) identifier() (*dicom.Dataset, error) {
	ds := dicom.NewDatasetWithSyntax(types.ExplicitLittleEndian)
	if err := ds.AddString(types.QueryRetrieveLevelTag, types.VR_CS, strings.ToUpper(o.level)); err != nil {
		return nil, err
	}
	for _, key := range o.keys {
		name, value, _ := strings.Cut(key, "=")
		entry, err := lookupKey(name)
		if err != nil {
			return nil, err
		}
		switch {
		case value == "":
			ds.AddBytes(entry.Tag, entry.VR, nil)
		case entry.VR == types.VR_UI:
			ds.AddUID(entry.Tag, value)
		default:
			if err := ds.AddString(entry.Tag, entry.VR, strings.Split(value, "\\")...); err != nil {
				return nil, fmt.Errorf("key %s: %w", name, err)
			}
		}
	}
	return ds, nil
}

// lookupKey resolves a keyword or a gggg,eeee tag.
func lookupKey(name string) (dicom.DictionaryEntry, error) {
	if group, element, ok := strings.Cut(name, ","); ok {
		g, err1 := strconv.ParseUint(group, 16, 16)
		e, err2 := strconv.ParseUint(element, 16, 16)
		if err1 != nil || err2 != nil {
			return dicom.DictionaryEntry{}, fmt.Errorf("invalid tag %q", name)
		}
		tag := types.NewTag(uint16(g), uint16(e))
		return dicom.DictionaryEntry{Tag: tag, VR: dicom.DefaultDictionary.DefaultVR(tag)}, nil
	}
	entry, ok := dicom.DefaultDictionary.LookupName(name)
	if !ok {
		return dicom.DictionaryEntry{}, fmt.Errorf("unknown keyword %q", name)
	}
	return entry, nil
}
