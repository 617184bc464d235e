// Package overlay chooses, per finding, which artifact feeds the compositor,
// applying the exclusion and fallback rules, and persists the composited
// results.
package overlay

// ThresholdedLow is the sentinel meaning a finding scored below the positive
// call threshold. Low findings are excluded from every overlay map.
const ThresholdedLow = "Low"

// Role declares how a finding participates in overlay composition. New
// findings with special handling extend this table, not the control flow.
type Role int

const (
	// RoleHeatmap renders the classifier heatmap, the default for findings
	// not present in the table.
	RoleHeatmap Role = iota
	// RoleExcluded keeps the finding out of composition entirely.
	RoleExcluded
	// RolePrimaryMask makes the segmentation mask the primary artifact for
	// the finding; a displaced classifier heatmap moves to the fallback map.
	RolePrimaryMask
	// RoleLungMask marks the mandatory lung mask for compositing.
	RoleLungMask
	// RoleConvexLungMask marks the optional convex lung mask variant.
	RoleConvexLungMask
)

// findingRoles is the declarative per-finding rule table.
var findingRoles = map[string]Role{
	// Cardiomegaly is rendered by a separate cardiothoracic measurement path.
	"Cardiomegaly": RoleExcluded,
	"Pneumothorax": RolePrimaryMask,
	"Lung":         RoleLungMask,
	"Lung Convex":  RoleConvexLungMask,
}

// roleOf returns the declared role of a finding, defaulting to RoleHeatmap.
func roleOf(finding string) Role {
	return findingRoles[finding]
}

// segmentationKey is the overlay map key for a mask class without a declared
// role.
func segmentationKey(class string) string {
	return class + " Segmentation"
}
