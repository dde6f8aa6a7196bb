package model

import "strings"

// Grade is a letter grade. Silver variants of S and SS are distinct grades.
type Grade string

const (
	GradeXH Grade = "XH"
	GradeX  Grade = "X"
	GradeSH Grade = "SH"
	GradeS  Grade = "S"
	GradeA  Grade = "A"
	GradeB  Grade = "B"
	GradeC  Grade = "C"
	GradeD  Grade = "D"
	GradeF  Grade = "F"
)

// ParseGrade maps the grade spellings used by the different servers onto the
// canonical set. Unknown spellings map to F.
func ParseGrade(s string) Grade {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "XH", "SSH", "SSHD":
		return GradeXH
	case "X", "SS":
		return GradeX
	case "SH", "SHD":
		return GradeSH
	case "S":
		return GradeS
	case "A":
		return GradeA
	case "B":
		return GradeB
	case "C":
		return GradeC
	case "D":
		return GradeD
	}
	return GradeF
}

// Count adds one occurrence of g to the counts. Every grade other than F is a
// clear.
func (gc *GradeCounts) Count(g Grade) {
	switch g {
	case GradeXH:
		gc.XH++
	case GradeX:
		gc.X++
	case GradeSH:
		gc.SH++
	case GradeS:
		gc.S++
	case GradeA:
		gc.A++
	case GradeB:
		gc.B++
	case GradeC:
		gc.C++
	case GradeD:
		gc.D++
	default:
		return
	}
	gc.Clears++
}
