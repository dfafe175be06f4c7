package schema

// Analysis field names shared between the labeling prompt and the validator.
const (
	FieldSummary   = "summary"
	FieldDomain    = "domain"
	FieldSubDomain = "subDomain"
	FieldTags      = "tags"
	FieldEntities  = "entities"
	FieldRelations = "relations"
)

// EntityShape is the expected shape of one extracted entity.
func EntityShape() ObjectShape {
	return ObjectShape{Fields: []Field{
		{Name: "type", Kind: KindString, Required: true},
		{Name: "name", Kind: KindString, Required: true},
		{Name: "normalizedId", Kind: KindString, Required: true},
	}}
}

// RelationShape is the expected shape of one extracted relation.
func RelationShape() ObjectShape {
	return ObjectShape{Fields: []Field{
		{Name: "source", Kind: KindString, Required: true},
		{Name: "target", Kind: KindString, Required: true},
		{Name: "label", Kind: KindString, Required: true},
	}}
}

// DocumentAnalysisShape is the shape the labeling pipeline expects from the
// model for a single chunk.
func DocumentAnalysisShape() ObjectShape {
	entity := EntityShape()
	relation := RelationShape()
	return ObjectShape{Fields: []Field{
		{Name: FieldSummary, Kind: KindString, Required: true},
		{Name: FieldDomain, Kind: KindString, Required: true},
		{Name: FieldSubDomain, Kind: KindString, Required: true},
		{Name: FieldTags, Kind: KindStringList, Required: false},
		{Name: FieldEntities, Kind: KindObjectList, Required: false, Elem: &entity},
		{Name: FieldRelations, Kind: KindObjectList, Required: false, Elem: &relation},
	}}
}
