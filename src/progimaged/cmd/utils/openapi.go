package utils

import (
	_ "embed"
	"fmt"
	"log/slog"
	"slices"

	"github.com/progimage/progimage/src/pkg/images"
	"gopkg.in/yaml.v3"
)

const (
	Tag        = "ImageService"
	PathPrefix = "/v1"
)

//go:embed docs/openapi.yaml
var openAPISpecs string

func GenerateOpenAPISpecs() (string, error) {
	var spec map[string]interface{}
	if err := yaml.Unmarshal([]byte(openAPISpecs), &spec); err != nil {
		return "", fmt.Errorf("failed to parse OpenAPI spec: %w", err)
	}

	tags, _ := spec["tags"].([]interface{})
	if !slices.Contains(tags, interface{}(Tag)) {
		tags = append(tags, Tag)
	}
	spec["tags"] = tags

	paths, ok := spec["paths"].(map[string]interface{})
	if !ok {
		paths = map[string]interface{}{}
		spec["paths"] = paths
	}

	var imagesSpec map[string]interface{}
	if unmarshalErr := yaml.Unmarshal([]byte(images.GetOpenAPISpec(PathPrefix, Tag)), &imagesSpec); unmarshalErr != nil {
		return "", fmt.Errorf("failed to unmarshal images OpenAPI spec: %w", unmarshalErr)
	}
	for k, v := range imagesSpec {
		paths[k] = v
	}

	var components map[string]interface{}
	if unmarshalErr := yaml.Unmarshal([]byte(images.GetOpenAPIComponents()), &components); unmarshalErr != nil {
		slog.Warn("Failed to unmarshal images OpenAPI components", "error", unmarshalErr)
	} else {
		spec["components"] = components
	}

	bytes, bytesErr := yaml.Marshal(spec)
	if bytesErr != nil {
		return "", fmt.Errorf("failed to marshal OpenAPI spec: %w", bytesErr)
	}
	return string(bytes), nil
}
