package validation

import (
	"strings"
	"unicode"
)

// displayNames maps well-known extraction field names to their reviewer-facing
// labels. Anything not listed falls back to titleCase.
var displayNames = map[string]string{
	"Report_ID":                       "Report ID",
	"Audit_Office_ID":                 "Audit Office",
	"Inspection_Period":               "Inspection Period",
	"state_or_center":                 "State or Center",
	"Reporting_Period":                "Reporting Period",
	"Period_From":                     "Period From",
	"Period_To":                       "Period To",
	"departments":                     "Departments",
	"state_name":                      "State Name",
	"division_name":                   "Division Name",
	"category_revenue_or_expenditure": "Category (Revenue/Expenditure)",
	"Org_Hierarchy":                   "Organization Hierarchy",
	"Org_Hier_Code":                   "Organization Hierarchy Code",
	"Budget_Detail":                   "Budget Details",
	"Budgeted_Amount":                 "Budgeted Amount",
	"Expenditure":                     "Expenditure",
	"Variance":                        "Variance",
	"Audit_Officer_Details":           "Audit Officer Details",
	"Audit_Details":                   "Audit Details",
	"Observations":                    "Observations",
	"Best_Practices":                  "Best Practices",
	"Auditee_Office_Details":          "Auditee Office Details",
	"Acknowledgement":                 "Acknowledgement",
	"signed_by":                       "Signed By",
	"file_name":                       "File Name",
	"year":                            "Year",
	"heading":                         "Document Heading",
}

var upperAcronyms = map[string]bool{
	"ID":      true,
	"GST":     true,
	"PAN":     true,
	"IFSC":    true,
	"DOB":     true,
	"UID":     true,
	"PINCODE": true,
}

// DisplayLabel resolves the human-readable label for a raw field name.
func DisplayLabel(rawKey string) string {
	if label, ok := displayNames[rawKey]; ok {
		return label
	}
	return titleCase(rawKey)
}

// titleCase turns snake_case or camelCase field names into spaced title-cased
// words: underscores become spaces, camelCase boundaries split, known
// acronyms are uppercased, and standalone Of/And stay lowercase.
func titleCase(rawKey string) string {
	spaced := strings.ReplaceAll(rawKey, "_", " ")
	spaced = splitCamel(spaced)

	words := strings.Fields(spaced)
	for i, word := range words {
		upper := strings.ToUpper(word)
		if upperAcronyms[upper] {
			words[i] = upper
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	titled := strings.Join(words, " ")
	titled = strings.ReplaceAll(titled, " Of ", " of ")
	titled = strings.ReplaceAll(titled, " And ", " and ")
	return titled
}

func splitCamel(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(runes[i-1]) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
