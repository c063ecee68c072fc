package qdrant

import (
	"testing"

	"github.com/stretchr/testify/assert"

	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

func TestRelatedFilesValueDecodesJSONString(t *testing.T) {
	v := relatedFilesValue(`["notes.md","promoted:2a8cf2de-6c3f-4f2a-9f8e-000000000001"]`)
	lv := v.GetListValue()
	assert.NotNil(t, lv)
	assert.Len(t, lv.GetValues(), 2)
	assert.Equal(t, "notes.md", lv.GetValues()[0].GetStringValue())
}

func TestRelatedFilesValuePassesThroughSlice(t *testing.T) {
	v := relatedFilesValue([]string{"a", "b"})
	assert.Len(t, v.GetListValue().GetValues(), 2)
}

func TestRelatedFilesUpdateSurvivesReadBack(t *testing.T) {
	p := registryvector.Payload{Content: "event", Layer: "event_log", IsActive: true}
	values := payloadToValues(p)
	values["related_files"] = relatedFilesValue(`["promoted:2a8cf2de-6c3f-4f2a-9f8e-000000000001"]`)

	got := valuesToPayload(values)
	assert.Equal(t, []string{"promoted:2a8cf2de-6c3f-4f2a-9f8e-000000000001"}, got.RelatedFiles)
}
