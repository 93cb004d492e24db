package delivery

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/deliveryload/internal/loadtest"
)

// Listing endpoints wrap their result in {"data": [...]}. An empty array
// is a valid listing.
const listSchema = `{
  "type": "object",
  "required": ["data"],
  "properties": {
    "data": {"type": "array"}
  }
}`

var listShape = jsonschema.MustCompileString("delivery-list.json", listSchema)

// hasDataArray reports whether the body is a JSON object whose data field
// is an array. A malformed body fails.
func hasDataArray(resp *loadtest.Response) bool {
	return validateShape(listShape, resp.Body) == nil
}

func validateShape(schema *jsonschema.Schema, body []byte) error {
	if len(body) == 0 {
		return fmt.Errorf("empty body")
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return schema.Validate(doc)
}

// hasTruthy reports whether any of the gjson paths is truthy in a
// well-formed body.
func hasTruthy(resp *loadtest.Response, paths ...string) bool {
	if !resp.ValidJSON() {
		return false
	}
	for _, p := range paths {
		if loadtest.Truthy(resp.JSON(p)) {
			return true
		}
	}
	return false
}

// firstProductID extracts the id of the first product in a listing. The
// listing is the data field when truthy, otherwise the body itself. Returns
// "" when the body is unparseable or holds no product with a truthy id.
func firstProductID(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	root := gjson.ParseBytes(body)

	products := root.Get("data")
	if !loadtest.Truthy(products) {
		products = root
	}
	if !products.IsArray() {
		return ""
	}

	items := products.Array()
	if len(items) == 0 {
		return ""
	}
	id := items[0].Get("id")
	if !loadtest.Truthy(id) {
		return ""
	}
	return id.String()
}
