package types

// ApplicationContextUID is the only application context defined by the standard.
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// SOP class UIDs (PS3.4 Annex B, C and others)
const (
	VerificationSOPClass = "1.2.840.10008.1.1"

	ComputedRadiographyImageStorage = "1.2.840.10008.5.1.4.1.1.1"
	DigitalXRayImageStorage         = "1.2.840.10008.5.1.4.1.1.1.1"
	CTImageStorage                  = "1.2.840.10008.5.1.4.1.1.2"
	EnhancedCTImageStorage          = "1.2.840.10008.5.1.4.1.1.2.1"
	UltrasoundMultiFrameImg         = "1.2.840.10008.5.1.4.1.1.3.1"
	MRImageStorage                  = "1.2.840.10008.5.1.4.1.1.4"
	EnhancedMRImageStorage          = "1.2.840.10008.5.1.4.1.1.4.1"
	UltrasoundImageStorage          = "1.2.840.10008.5.1.4.1.1.6.1"
	SecondaryCaptureImageStorage    = "1.2.840.10008.5.1.4.1.1.7"
	XRayAngiographicImageStorage    = "1.2.840.10008.5.1.4.1.1.12.1"
	NuclearMedicineImageStorage     = "1.2.840.10008.5.1.4.1.1.20"
	EncapsulatedPDFStorage          = "1.2.840.10008.5.1.4.1.1.104.1"
	PETImageStorage                 = "1.2.840.10008.5.1.4.1.1.128"
	RTImageStorage                  = "1.2.840.10008.5.1.4.1.1.481.1"
	RTDoseStorage                   = "1.2.840.10008.5.1.4.1.1.481.2"
	RTStructureSetStorage           = "1.2.840.10008.5.1.4.1.1.481.3"
	RTPlanStorage                   = "1.2.840.10008.5.1.4.1.1.481.5"

	PatientRootQueryRetrieveInformationModelFind = "1.2.840.10008.5.1.4.1.2.1.1"
	PatientRootQueryRetrieveInformationModelMove = "1.2.840.10008.5.1.4.1.2.1.2"
	PatientRootQueryRetrieveInformationModelGet  = "1.2.840.10008.5.1.4.1.2.1.3"
	StudyRootQueryRetrieveInformationModelFind   = "1.2.840.10008.5.1.4.1.2.2.1"
	StudyRootQueryRetrieveInformationModelMove   = "1.2.840.10008.5.1.4.1.2.2.2"
	StudyRootQueryRetrieveInformationModelGet    = "1.2.840.10008.5.1.4.1.2.2.3"
	ModalityWorklistInformationModelFind         = "1.2.840.10008.5.1.4.31"

	StorageCommitmentPushModelSOPClass     = "1.2.840.10008.1.20.1"
	ModalityPerformedProcedureStepSOPClass = "1.2.840.10008.3.1.2.3.3"
)

// SOP class categories
const (
	CategoryVerification  = "Verification"
	CategoryStorage       = "Storage"
	CategoryQueryRetrieve = "Query/Retrieve"
	CategoryWorklist      = "Worklist"
	CategoryNormalized    = "Normalized"
	CategoryUnknown       = "Unknown"
)

// SOPClassInfo describes a registered SOP class.
type SOPClassInfo struct {
	UID      string
	Name     string
	Category string
}

var sopClassRegistry = map[string]SOPClassInfo{}

func registerSOPClass(uid, name, category string) {
	sopClassRegistry[uid] = SOPClassInfo{UID: uid, Name: name, Category: category}
}

func init() {
	registerSOPClass(VerificationSOPClass, "Verification SOP Class", CategoryVerification)

	registerSOPClass(ComputedRadiographyImageStorage, "Computed Radiography Image Storage", CategoryStorage)
	registerSOPClass(DigitalXRayImageStorage, "Digital X-Ray Image Storage - For Presentation", CategoryStorage)
	registerSOPClass(CTImageStorage, "CT Image Storage", CategoryStorage)
	registerSOPClass(EnhancedCTImageStorage, "Enhanced CT Image Storage", CategoryStorage)
	registerSOPClass(UltrasoundMultiFrameImg, "Ultrasound Multi-frame Image Storage", CategoryStorage)
	registerSOPClass(MRImageStorage, "MR Image Storage", CategoryStorage)
	registerSOPClass(EnhancedMRImageStorage, "Enhanced MR Image Storage", CategoryStorage)
	registerSOPClass(UltrasoundImageStorage, "Ultrasound Image Storage", CategoryStorage)
	registerSOPClass(SecondaryCaptureImageStorage, "Secondary Capture Image Storage", CategoryStorage)
	registerSOPClass(XRayAngiographicImageStorage, "X-Ray Angiographic Image Storage", CategoryStorage)
	registerSOPClass(NuclearMedicineImageStorage, "Nuclear Medicine Image Storage", CategoryStorage)
	registerSOPClass(EncapsulatedPDFStorage, "Encapsulated PDF Storage", CategoryStorage)
	registerSOPClass(PETImageStorage, "Positron Emission Tomography Image Storage", CategoryStorage)
	registerSOPClass(RTImageStorage, "RT Image Storage", CategoryStorage)
	registerSOPClass(RTDoseStorage, "RT Dose Storage", CategoryStorage)
	registerSOPClass(RTStructureSetStorage, "RT Structure Set Storage", CategoryStorage)
	registerSOPClass(RTPlanStorage, "RT Plan Storage", CategoryStorage)

	registerSOPClass(PatientRootQueryRetrieveInformationModelFind, "Patient Root Query/Retrieve - FIND", CategoryQueryRetrieve)
	registerSOPClass(PatientRootQueryRetrieveInformationModelMove, "Patient Root Query/Retrieve - MOVE", CategoryQueryRetrieve)
	registerSOPClass(PatientRootQueryRetrieveInformationModelGet, "Patient Root Query/Retrieve - GET", CategoryQueryRetrieve)
	registerSOPClass(StudyRootQueryRetrieveInformationModelFind, "Study Root Query/Retrieve - FIND", CategoryQueryRetrieve)
	registerSOPClass(StudyRootQueryRetrieveInformationModelMove, "Study Root Query/Retrieve - MOVE", CategoryQueryRetrieve)
	registerSOPClass(StudyRootQueryRetrieveInformationModelGet, "Study Root Query/Retrieve - GET", CategoryQueryRetrieve)
	registerSOPClass(ModalityWorklistInformationModelFind, "Modality Worklist - FIND", CategoryWorklist)

	registerSOPClass(StorageCommitmentPushModelSOPClass, "Storage Commitment Push Model", CategoryNormalized)
	registerSOPClass(ModalityPerformedProcedureStepSOPClass, "Modality Performed Procedure Step", CategoryNormalized)
}

// GetSOPClassInfo returns information about a SOP class UID. Unknown UIDs
// are reported with the Unknown category.
func GetSOPClassInfo(uid string) SOPClassInfo {
	if info, ok := sopClassRegistry[uid]; ok {
		return info
	}
	return SOPClassInfo{UID: uid, Name: "Unknown", Category: CategoryUnknown}
}

// IsStorageSOPClass returns true if the UID is a registered storage SOP class
func IsStorageSOPClass(uid string) bool {
	return GetSOPClassInfo(uid).Category == CategoryStorage
}

// IsQueryRetrieveSOPClass returns true if the UID is a registered query/retrieve SOP class
func IsQueryRetrieveSOPClass(uid string) bool {
	return GetSOPClassInfo(uid).Category == CategoryQueryRetrieve
}

// SOPClassesIn returns every registered SOP class of the given category.
func SOPClassesIn(category string) []string {
	var uids []string
	for uid, info := range sopClassRegistry {
		if info.Category == category {
			uids = append(uids, uid)
		}
	}
	return uids
}
