package store

type AttributeType struct {
	ID            int64  `gorm:"column:id;primaryKey" json:"id"`
	AttributeName string `gorm:"column:attribute_name" json:"attribute_name"`
	Description   string `gorm:"column:description" json:"description"`
}

func (AttributeType) TableName() string {
	return "attribute_types"
}

// AttributeDetail is one selectable value of an attribute type. ContentCount
// is filled by Catalog only.
type AttributeDetail struct {
	ID              int64  `gorm:"column:id;primaryKey" json:"id"`
	AttributeTypeID int64  `gorm:"column:attribute_type_id" json:"attribute_type_id"`
	Description     string `gorm:"column:description" json:"description"`
	Value           string `gorm:"column:value" json:"value"`
	ContentCount    int    `gorm:"column:content_count;->" json:"content_count"`
}

func (AttributeDetail) TableName() string {
	return "attribute_details"
}

type Prompt struct {
	ID      int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Content string `gorm:"column:content" json:"content"`
}

func (Prompt) TableName() string {
	return "prompts"
}

type PromptAttributeDetail struct {
	PromptID          int64 `gorm:"column:prompt_id"`
	AttributeDetailID int64 `gorm:"column:attribute_detail_id"`
}

func (PromptAttributeDetail) TableName() string {
	return "prompt_attribute_details"
}

// Catalog is the attribute data the selection UI is built from.
type Catalog struct {
	Types   []AttributeType   `json:"types"`
	Details []AttributeDetail `json:"details"`
}

func (c Catalog) Type(id int64) (AttributeType, bool) {
	for _, t := range c.Types {
		if t.ID == id {
			return t, true
		}
	}
	return AttributeType{}, false
}

func (c Catalog) Detail(id int64) (AttributeDetail, bool) {
	for _, d := range c.Details {
		if d.ID == id {
			return d, true
		}
	}
	return AttributeDetail{}, false
}

// Selectable lists the details of typeID that have at least one prompt.
func (c Catalog) Selectable(typeID int64) []AttributeDetail {
	var out []AttributeDetail
	for _, d := range c.Details {
		if d.AttributeTypeID == typeID && d.ContentCount > 0 {
			out = append(out, d)
		}
	}
	return out
}
