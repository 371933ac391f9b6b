package keyboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyButtons(t *testing.T) {
	markup := ReplyButtons([]string{"📄 Презентация", "📷 Фото"}, nil, []string{"", "📝 Оставить заявку"})
	assert.True(t, markup.ResizeKeyboard)
	require.Len(t, markup.ReplyKeyboard, 2)
	assert.Equal(t, "📄 Презентация", markup.ReplyKeyboard[0][0].Text)
	assert.Equal(t, "📷 Фото", markup.ReplyKeyboard[0][1].Text)
	require.Len(t, markup.ReplyKeyboard[1], 1)
	assert.Equal(t, "📝 Оставить заявку", markup.ReplyKeyboard[1][0].Text)
}
