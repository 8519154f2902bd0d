package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultStylesRender(t *testing.T) {
	styles := DefaultStyles()

	// Every style renders its input somewhere in the output.
	assert.Contains(t, styles.Header.Render("title"), "title")
	assert.Contains(t, styles.Success.Render("ok"), "ok")
	assert.Contains(t, styles.Warning.Render("warn"), "warn")
	assert.Contains(t, styles.Error.Render("bad"), "bad")
	assert.Contains(t, styles.Active.Render("●"), "●")
	assert.Contains(t, styles.Dim.Render("○"), "○")
}

func TestNoColorStylesArePassthrough(t *testing.T) {
	styles := NoColorStyles()
	assert.Equal(t, "plain", styles.Success.Render("plain"))
	assert.Equal(t, "plain", styles.Header.Render("plain"))
	assert.Equal(t, "plain", styles.Error.Render("plain"))
}

func TestGetStyles(t *testing.T) {
	assert.Equal(t, "x", GetStyles(true).Success.Render("x"))
	assert.Contains(t, GetStyles(false).Success.Render("x"), "x")
}
