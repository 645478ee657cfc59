package images

import (
	"fmt"
	"strings"
)

const openAPITemplate = `%[1]s/images:
  post:
    tags:
      - %[2]s
    summary: Upload images
    description: Uploads one or more image files. The format is detected from the content.
    requestBody:
      required: true
      content:
        multipart/form-data:
          schema:
            type: object
            properties:
              files:
                type: array
                items:
                  type: string
                  format: binary
            required:
              - files
    responses:
      '200':
        description: One outcome per uploaded file, in request order
        content:
          application/json:
            schema:
              type: array
              items:
                $ref: '#/components/schemas/Outcome'
      '400':
        description: Bad request - no files or malformed form
  get:
    tags:
      - %[2]s
    summary: List images
    description: Lists every image whose file is present. Images whose file vanished are dropped.
    responses:
      '200':
        description: List of images
        content:
          application/json:
            schema:
              type: object
              properties:
                images:
                  type: array
                  items:
                    $ref: '#/components/schemas/Outcome'
      '500':
        description: Internal server error
%[1]s/images/{id}:
  parameters:
    - $ref: '#/components/parameters/ImageId'
  get:
    tags:
      - %[2]s
    summary: Retrieve image
    responses:
      '200':
        description: Image content
        content:
          application/octet-stream:
            schema:
              type: string
              format: binary
      '404':
        description: Unknown image, or its file no longer exists
  delete:
    tags:
      - %[2]s
    summary: Delete image
    responses:
      '204':
        description: Image deleted
      '404':
        description: Unknown image
%[1]s/images/{id}/convert:
  parameters:
    - $ref: '#/components/parameters/ImageId'
    - $ref: '#/components/parameters/Format'
  get:
    tags:
      - %[2]s
    summary: Convert stored image
    description: Converts the stored image and keeps the converted version in its place.
    responses:
      '200':
        description: Converted image content
        content:
          application/octet-stream:
            schema:
              type: string
              format: binary
      '400':
        description: The stored file cannot be decoded
      '404':
        description: Unknown image, or its file no longer exists
      '409':
        description: Both the converted name and its id-suffixed variant are taken
      '501':
        description: Target format cannot be encoded
      '504':
        description: Conversion timed out
%[1]s/convert:
  post:
    tags:
      - %[2]s
    summary: Convert uploaded file
    description: Converts an uploaded file without storing it.
    parameters:
      - $ref: '#/components/parameters/Format'
    requestBody:
      required: true
      content:
        multipart/form-data:
          schema:
            type: object
            properties:
              file:
                type: string
                format: binary
            required:
              - file
    responses:
      '200':
        description: Converted image content
        content:
          application/octet-stream:
            schema:
              type: string
              format: binary
      '400':
        description: Missing file or undecodable content
      '501':
        description: Target format cannot be encoded`

const openAPIComponents = `parameters:
  ImageId:
    name: id
    in: path
    required: true
    schema:
      type: integer
      format: int64
  Format:
    name: format
    in: query
    required: true
    schema:
      type: string
      example: png
schemas:
  Outcome:
    type: object
    properties:
      id:
        type: integer
        format: int64
        description: Image id, -1 when the upload failed
      display_name:
        type: string
      status:
        type: string
        description: OK or a failure description
      format:
        type: string
    required:
      - id
      - display_name
      - status
      - format`

// GetOpenAPISpec returns the OpenAPI paths of the image API mounted under
// rootPath.
func GetOpenAPISpec(rootPath, tag string) string {
	if rootPath == "" || tag == "" {
		return ""
	}

	// Ensure rootPath doesn't have trailing slash
	rootPath = strings.TrimSuffix(rootPath, "/")

	return fmt.Sprintf(openAPITemplate, rootPath, tag)
}

// GetOpenAPIComponents returns the shared parameters and schemas referenced
// by GetOpenAPISpec.
func GetOpenAPIComponents() string {
	return openAPIComponents
}
