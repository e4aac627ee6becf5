package omr

// Fatal error codes. Any of these aborts the remaining stages and the
// scan finishes with StatusFailed.
const (
	CodeTemplateNotFound    = "TemplateNotFound"
	CodeTemplateInvalid     = "TemplateInvalid"
	CodeImageNotFound       = "ImageNotFound"
	CodeImageDecodeError    = "ImageDecodeError"
	CodePreprocessingFailed = "PreprocessingFailed"
	CodePaperNotDetected    = "PaperNotDetected"
	CodePerspectiveFailed   = "PerspectiveCorrectionFailed"
	CodeRoiExtractionFailed = "RoiExtractionFailed"
	CodeUnexpectedError     = "UnexpectedError"
)

// Advisory warning codes. Scans carrying any of these finish with
// StatusNeedsReview instead of StatusSuccess.
const (
	WarnLowBlurScore       = "LOW_BLUR_SCORE"
	WarnSignificantSkew    = "SIGNIFICANT_SKEW"
	WarnPerspectiveQuality = "PERSPECTIVE_QUALITY"
	WarnAlignmentSkipped   = "ALIGNMENT_SKIPPED"
	WarnAlignmentFailed    = "ALIGNMENT_FAILED"
	WarnMultipleAmbiguous  = "MULTIPLE_AMBIGUOUS"
)
