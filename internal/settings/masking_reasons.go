package settings

import "github.com/kitepkg/kite/internal/pkgdb"

// MaskReason is the closed enumeration of package masking reason codes.
type MaskReason pkgdb.ReasonCode

// Masking reason codes persisted by package validators.
const (
	MaskReasonNone MaskReason = iota
	MaskReasonSystemMask
	MaskReasonUserPackageMask
	MaskReasonUserLicenseMask
	MaskReasonUserLiveMask
	MaskReasonUserPackageUnmask
	MaskReasonUserLiveUnmask
	MaskReasonUserPackageKeywords
	MaskReasonUserRepositoryPackageKeywords
	MaskReasonUserRepositoryPackageKeywordsAll
	MaskReasonKeywordMask
)

// MaskCategory groups masking reasons for "masked by user" style queries.
type MaskCategory int

// Masking reason categories.
const (
	MaskCategoryNone MaskCategory = iota
	MaskCategorySystem
	MaskCategoryUserMask
	MaskCategoryUserUnmask
	MaskCategoryKeyword
	MaskCategoryLiveMask
)

type maskReasonMetadata struct {
	category    MaskCategory
	description string
}

var maskReasonRegistry = map[MaskReason]maskReasonMetadata{
	MaskReasonNone:                             {MaskCategoryNone, "not masked"},
	MaskReasonSystemMask:                       {MaskCategorySystem, "masked by system policy"},
	MaskReasonUserPackageMask:                  {MaskCategoryUserMask, "masked by user package.mask entry"},
	MaskReasonUserLicenseMask:                  {MaskCategoryUserMask, "masked by user license.mask entry"},
	MaskReasonUserLiveMask:                     {MaskCategoryLiveMask, "masked by user live mask"},
	MaskReasonUserPackageUnmask:                {MaskCategoryUserUnmask, "unmasked by user package.unmask entry"},
	MaskReasonUserLiveUnmask:                   {MaskCategoryLiveMask, "unmasked by user live unmask"},
	MaskReasonUserPackageKeywords:              {MaskCategoryUserUnmask, "unmasked by user package keywords"},
	MaskReasonUserRepositoryPackageKeywords:    {MaskCategoryUserUnmask, "unmasked by user repository package keywords"},
	MaskReasonUserRepositoryPackageKeywordsAll: {MaskCategoryUserUnmask, "unmasked by user global repository keywords"},
	MaskReasonKeywordMask:                      {MaskCategoryKeyword, "masked by repository keyword"},
}

// Category returns the reason's grouping.
func (reason MaskReason) Category() MaskCategory {
	return maskReasonRegistry[reason].category
}

// Description returns the fixed human-readable text for the reason.
func (reason MaskReason) Description() string {
	metadata, known := maskReasonRegistry[reason]
	if !known {
		return "unknown masking reason"
	}
	return metadata.description
}

// UserMaskReasons lists the reasons counted as "masked by user".
func UserMaskReasons() []MaskReason {
	return []MaskReason{MaskReasonUserPackageMask, MaskReasonUserLicenseMask, MaskReasonUserLiveMask}
}

// UserUnmaskReasons lists the reasons counted as "unmasked by user".
func UserUnmaskReasons() []MaskReason {
	return []MaskReason{
		MaskReasonUserPackageUnmask,
		MaskReasonUserLiveUnmask,
		MaskReasonUserPackageKeywords,
		MaskReasonUserRepositoryPackageKeywords,
		MaskReasonUserRepositoryPackageKeywordsAll,
	}
}
