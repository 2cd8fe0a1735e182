// Package gotype provides the marker and hook types mapped structs use.
package gotype

// Document is an optional zero-size marker embedded in mapped structs to
// carry entity-level options in its tag.
//
// Example usage:
//
//	type Book struct {
//	    gotype.Document `odm:"collection:books,discriminator:book"`
//	    ID    primitive.ObjectID `odm:"_id"`
//	    Title string
//	}
type Document struct{}

// Defaulter is implemented by types that initialize default values when a
// fresh instance is created for decoding. Properties absent from the
// document keep these defaults.
type Defaulter interface {
	SetDefaults()
}

// EnumNamer overrides the stored name of an enum constant.
type EnumNamer interface {
	DocumentName() string
}
