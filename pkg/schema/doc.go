// Package schema declares the expected types of session fields.
//
// A Schema maps field names to types. Validate decodes each declared field of
// a record and checks it; fields the schema does not mention are ignored, so
// a schema constrains only what an application relies on:
//
//	s, err := schema.ParseTypeMap(map[string]string{
//	    "user":  "string",
//	    "roles": "[string]",
//	    "seen?": "int",
//	})
//
// A trailing "?" on a field name marks it optional.
package schema
