package dictionary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, "猫", escapeLike("猫"))
	assert.Equal(t, `100\%`, escapeLike("100%"))
	assert.Equal(t, `a\_b`, escapeLike("a_b"))
	assert.Equal(t, `c\\d`, escapeLike(`c\d`))
	assert.Equal(t, `\%\_\\`, escapeLike(`%_\`))
}

func TestFuzzyQueryDeclaresEscapeForEveryLike(t *testing.T) {
	likes := strings.Count(searchFuzzyQuery, "LIKE")
	escapes := strings.Count(searchFuzzyQuery, `ESCAPE '\'`)
	assert.Equal(t, likes, escapes)
}
