package storage

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

const publicStorageHost = "https://storage.googleapis.com"

// ServiceImagePath composes services/{serviceID}/images/{objectID}{ext}. The extension is taken from
// fileName and lowercased.
func ServiceImagePath(serviceID, objectID, fileName string) (string, error) {
	serviceID, err := validateSegment("serviceID", serviceID)
	if err != nil {
		return "", err
	}
	objectID, err = validateSegment("objectID", objectID)
	if err != nil {
		return "", err
	}
	name, err := validateSegment("fileName", fileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("services/%s/images/%s%s", serviceID, objectID, Extension(name)), nil
}

// Extension returns the lowercased extension of fileName including the dot, or "" when absent.
func Extension(fileName string) string {
	return strings.ToLower(path.Ext(strings.TrimSpace(fileName)))
}

// PublicURL returns the public object URL for bucket and object.
func PublicURL(bucket, object string) string {
	segments := strings.Split(object, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return fmt.Sprintf("%s/%s/%s", publicStorageHost, bucket, strings.Join(segments, "/"))
}

// validateSegment rejects values that would escape their path segment.
func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", name)
	case strings.ContainsAny(value, "/\\"), strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s must be a single path segment", name)
	}
	return value, nil
}
