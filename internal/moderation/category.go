package moderation

import "fmt"

// Category is one of the moderation categories a human moderator can pick.
// Each maps to a NIP-56 report type (used on the report event's tags) and a
// NIP-69 label code published under the MOD namespace.
type Category string

const (
	CategoryHate                  Category = "hate"
	CategoryHateThreatening       Category = "hate/threatening"
	CategoryHarassment            Category = "harassment"
	CategoryHarassmentThreatening Category = "harassment/threatening"
	CategorySelfHarm              Category = "self-harm"
	CategorySelfHarmIntent        Category = "self-harm/intent"
	CategorySelfHarmInstructions  Category = "self-harm/instructions"
	CategorySexual                Category = "sexual"
	CategorySexualMinors          Category = "sexual/minors"
	CategoryViolence              Category = "violence"
	CategoryViolenceGraphic       Category = "violence/graphic"
	CategorySpam                  Category = "spam"
	CategoryImpersonation         Category = "impersonation"
	CategoryOther                 Category = "other"
)

type categoryInfo struct {
	description string // becomes the report event's content
	reportType  string // NIP-56 report type
	labelCode   string // NIP-69 code, published as "MOD>{code}"
}

var categories = map[Category]categoryInfo{
	CategoryHate: {
		description: "Content that expresses, incites, or promotes hate based on protected characteristics.",
		reportType:  "other",
		labelCode:   "IH",
	},
	CategoryHateThreatening: {
		description: "Hateful content that also includes violence or serious harm towards the targeted group.",
		reportType:  "other",
		labelCode:   "HC-bhd",
	},
	CategoryHarassment: {
		description: "Content that expresses, incites, or promotes harassing language towards any target.",
		reportType:  "other",
		labelCode:   "IL-har",
	},
	CategoryHarassmentThreatening: {
		description: "Harassment content that also includes violence or serious harm towards any target.",
		reportType:  "other",
		labelCode:   "HC-bhd",
	},
	CategorySelfHarm: {
		description: "Content that promotes, encourages, or depicts acts of self-harm.",
		reportType:  "other",
		labelCode:   "HC-bhd",
	},
	CategorySelfHarmIntent: {
		description: "Content where the speaker expresses intent to engage in acts of self-harm.",
		reportType:  "other",
		labelCode:   "HC-bhd",
	},
	CategorySelfHarmInstructions: {
		description: "Content that gives instructions or advice on how to commit acts of self-harm.",
		reportType:  "other",
		labelCode:   "HC-bhd",
	},
	CategorySexual: {
		description: "Content meant to arouse sexual excitement or that promotes sexual services.",
		reportType:  "nudity",
		labelCode:   "NS",
	},
	CategorySexualMinors: {
		description: "Sexual content that includes an individual who is under 18 years old.",
		reportType:  "illegal",
		labelCode:   "IL-csa",
	},
	CategoryViolence: {
		description: "Content that depicts death, violence, or physical injury.",
		reportType:  "other",
		labelCode:   "VI",
	},
	CategoryViolenceGraphic: {
		description: "Content that depicts death, violence, or physical injury in graphic detail.",
		reportType:  "other",
		labelCode:   "VI",
	},
	CategorySpam: {
		description: "Unsolicited, repetitive, or deceptive content posted in bulk.",
		reportType:  "spam",
		labelCode:   "SP",
	},
	CategoryImpersonation: {
		description: "An account pretending to be a different person or organization.",
		reportType:  "impersonation",
		labelCode:   "IM",
	},
	CategoryOther: {
		description: "For reports that don't fit in the other categories.",
		reportType:  "other",
		labelCode:   "NA",
	},
}

// ParseCategory validates a category string against the known vocabulary.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if _, ok := categories[c]; !ok {
		return "", fmt.Errorf("moderation: invalid category %q", s)
	}
	return c, nil
}

// Description returns the human-readable explanation published as the
// report event's content.
func (c Category) Description() string {
	return categories[c].description
}

// ReportType returns the NIP-56 report type attached to the report event's
// e and p tags.
func (c Category) ReportType() string {
	return categories[c].reportType
}

// LabelCode returns the NIP-69 code for the category, without the MOD>
// namespace prefix.
func (c Category) LabelCode() string {
	return categories[c].labelCode
}

func (c Category) String() string {
	return string(c)
}
