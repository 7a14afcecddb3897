// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package updatepackage

// packageSchema is the bundled JSON Schema the raw package bytes are
// validated against before being unmarshaled. It enforces only the fields
// this model dereferences; per-object mode-specific fields are
// intentionally left permissive since object variants are dispatched by
// the object package, not by this schema.
const packageSchema = `{
  "type": "object",
  "required": ["product", "version", "supported-hardware", "objects"],
  "properties": {
    "product": {"type": "string", "minLength": 1},
    "version": {"type": "string"},
    "supported-hardware": {},
    "objects": {
      "type": "array",
      "minItems": 2,
      "maxItems": 2,
      "items": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["mode", "filename", "size", "sha256sum"],
          "properties": {
            "mode": {"type": "string"},
            "filename": {"type": "string"},
            "size": {"type": "integer", "minimum": 0},
            "sha256sum": {"type": "string"}
          }
        }
      }
    }
  }
}`
