package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key builders. Every project-scoped key embeds ":project:<pid>:" so that
// pattern invalidation can clear one project at a time.

// CallersKey fingerprints a find_callers query.
func CallersKey(projectID, functionID string) string {
	return fmt.Sprintf("query:callers:project:%s:function:%s", projectID, functionID)
}

// DependenciesKey fingerprints a find_dependencies query.
func DependenciesKey(projectID, functionID string) string {
	return fmt.Sprintf("query:dependencies:project:%s:function:%s", projectID, functionID)
}

// ImpactKey fingerprints an impact_analysis query.
func ImpactKey(projectID, functionID string, maxDepth int) string {
	return fmt.Sprintf("query:impact:project:%s:function:%s:depth:%d", projectID, functionID, maxDepth)
}

// SearchKey fingerprints a semantic search across projects. The project
// list is sorted so key equality does not depend on request order.
func SearchKey(projectIDs []string, query string) string {
	sorted := append([]string{}, projectIDs...)
	sort.Strings(sorted)
	sum := md5.Sum([]byte(query))
	return fmt.Sprintf("query:search:projects:%s:query:%s",
		strings.Join(sorted, ","), hex.EncodeToString(sum[:])[:16])
}

// SimilarKey fingerprints a find_similar query.
func SimilarKey(projectID, entityID string, topK int) string {
	return fmt.Sprintf("query:similar:project:%s:entity:%s:top:%d", projectID, entityID, topK)
}

// HotspotsKey fingerprints a centrality report.
func HotspotsKey(projectID string, topN int) string {
	return fmt.Sprintf("query:hotspots:project:%s:top:%d", projectID, topN)
}

// GraphKey fingerprints a visualization query by hashing the canonical
// filter encoding.
func GraphKey(projectID string, filterFingerprint string) string {
	return fmt.Sprintf("query:graph:project:%s:filters:%x",
		projectID, xxhash.Sum64String(filterFingerprint))
}
