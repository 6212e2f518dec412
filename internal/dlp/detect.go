package dlp

// Detect runs the matching pipeline on a flat string without redacting
// it, returning the Detection list with empty placeholders. Used by the
// Cursor-hook handlers, which never rewrite the text they inspect.
func Detect(text string, patterns []CompiledPattern) []Detection {
	var detections []Detection
	if len(patterns) == 0 {
		return detections
	}

	seen := make(map[string]struct{})
	for _, pattern := range patterns {
		var matches []string
		for _, re := range pattern.Positive {
			matches = append(matches, re.FindAllString(text, -1)...)
		}
		if len(matches) < pattern.MinOccurrences {
			continue
		}

		for _, matched := range matches {
			if _, dup := seen[matched]; dup {
				continue
			}
			if pattern.MinUniqueChars > 0 && countUniqueChars(matched) < pattern.MinUniqueChars {
				continue
			}
			if matchesAny(pattern.Negative, matched) {
				continue
			}

			seen[matched] = struct{}{}
			detections = append(detections, Detection{
				PatternName:   pattern.Name,
				Kind:          pattern.Kind,
				OriginalValue: matched,
			})
		}
	}

	return detections
}
