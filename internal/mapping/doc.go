// Package mapping loads index mappings from a file keyed by document type
// and applies them through the index connector.
//
// The file may be YAML or JSON:
//
//	person:
//	  properties:
//	    displayName: {type: text}
//	message:
//	  properties:
//	    origin: {type: keyword}
//
// A Watcher reapplies the file whenever it is written.
package mapping
