// Package rubric owns the three analysis modes and their prompt material.
//
// Each mode (review, analyze, priority) has an embedded markdown rubric with
// YAML frontmatter declaring the mode and the top-level keys its JSON result
// must contain. Rubrics can be overridden per project (.facet/rubrics) or per
// user (~/.config/facet/rubrics); the first directory with a matching file
// wins.
//
// Assemble composes the final prompt for one task: rubric, run metadata,
// the name-status summary, and the fenced unified diff, with truncation
// notes where the diff texts were bounded.
package rubric
