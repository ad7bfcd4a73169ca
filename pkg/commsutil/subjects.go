package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	DefaultLifecyclePrefix = "automation.lifecycle"
	workerSubjectRoot      = "automation.worker"
	outboundSubjectRoot    = "automation.outbound"
)

// SubjectToken makes s safe to use as a single subject token.
func SubjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '\t', '*', '>':
			return '_'
		}
		return r
	}, s)
}

// BuildLifecycleSubject builds the granular subject for one lifecycle stage of an automation.
func BuildLifecycleSubject(prefix, automation, stage string) string {
	if prefix == "" {
		prefix = DefaultLifecyclePrefix
	}
	return fmt.Sprintf("%s.%s.%s", prefix, SubjectToken(automation), SubjectToken(stage))
}

// BuildWorkerSubject builds the request subject a remote worker serves.
func BuildWorkerSubject(automation, workerID string) string {
	return fmt.Sprintf("%s.%s.%s", workerSubjectRoot, SubjectToken(automation), SubjectToken(workerID))
}

// BuildOutboundSubject builds the subject workers publish handler-originated frames on.
func BuildOutboundSubject(automation string) string {
	return fmt.Sprintf("%s.%s", outboundSubjectRoot, SubjectToken(automation))
}
