package aggregate

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fluentlens/fluentlens/internal/core"
)

const (
	// LivePrefix namespaces live counters in the fast layer.
	LivePrefix = "livecount:"

	// BatchPrefix namespaces accumulator entries in the fast layer.
	BatchPrefix = "batch:"

	keySeparator = ":"
)

// LiveKey returns livecount:{user}:{category}:{subcategory}.
func LiveKey(key core.FrequencyKey) string {
	return LivePrefix + joinKey(key)
}

// BatchKey returns batch:{user}:{category}:{subcategory}.
func BatchKey(key core.FrequencyKey) string {
	return BatchPrefix + joinKey(key)
}

// UserBatchPrefix returns the prefix shared by every accumulator entry of a user.
func UserBatchPrefix(userID uuid.UUID) string {
	return BatchPrefix + userID.String() + keySeparator
}

func joinKey(key core.FrequencyKey) string {
	return key.UserID.String() + keySeparator + key.Category + keySeparator + key.Subcategory
}

// ParseBatchKey recovers the frequency key encoded in an accumulator key.
func ParseBatchKey(raw string) (core.FrequencyKey, error) {
	rest, ok := strings.CutPrefix(raw, BatchPrefix)
	if !ok {
		return core.FrequencyKey{}, fmt.Errorf("%w: %q lacks %q prefix", ErrMalformedKey, raw, BatchPrefix)
	}

	parts := strings.Split(rest, keySeparator)
	if len(parts) != 3 {
		return core.FrequencyKey{}, fmt.Errorf("%w: %q has %d segments, want 3", ErrMalformedKey, raw, len(parts))
	}

	userID, err := uuid.Parse(parts[0])
	if err != nil || userID == uuid.Nil {
		return core.FrequencyKey{}, fmt.Errorf("%w: %q has invalid user id", ErrMalformedKey, raw)
	}
	if parts[1] == "" || parts[2] == "" {
		return core.FrequencyKey{}, fmt.Errorf("%w: %q has an empty category segment", ErrMalformedKey, raw)
	}

	return core.FrequencyKey{UserID: userID, Category: parts[1], Subcategory: parts[2]}, nil
}

// ValidateKey rejects keys that would be ambiguous once encoded.
func ValidateKey(key core.FrequencyKey) error {
	if key.UserID == uuid.Nil {
		return invalidf("user id is required")
	}
	return ValidatePair(key.Pair())
}

// ValidatePair rejects blank names and names containing the key separator.
func ValidatePair(pair core.ErrorPair) error {
	if problem := pairProblem(pair); problem != "" {
		return invalidf("%s", problem)
	}
	return nil
}

func pairProblem(pair core.ErrorPair) string {
	switch {
	case strings.TrimSpace(pair.Category) == "":
		return "error category is required"
	case strings.TrimSpace(pair.Subcategory) == "":
		return "error subcategory is required"
	case strings.Contains(pair.Category, keySeparator):
		return fmt.Sprintf("error category %q must not contain %q", pair.Category, keySeparator)
	case strings.Contains(pair.Subcategory, keySeparator):
		return fmt.Sprintf("error subcategory %q must not contain %q", pair.Subcategory, keySeparator)
	}
	return ""
}
