package http

import (
	"strconv"

	"voicerooms/internal/core/domain"
	"voicerooms/pkg/errors"
	"voicerooms/pkg/validation"

	"github.com/gin-gonic/gin"
)

// snowflake parses a required id and records an input error on failure.
func snowflake(c *gin.Context, field, raw string) (uint64, bool) {
	id, err := validation.ParseSnowflake(field, raw)
	if err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return 0, false
	}
	return id, true
}

// optionalSnowflake treats an empty value as zero.
func optionalSnowflake(c *gin.Context, field, raw string) (uint64, bool) {
	if raw == "" {
		return 0, true
	}
	return snowflake(c, field, raw)
}

func guildParam(c *gin.Context) (domain.GuildID, bool) {
	id, ok := snowflake(c, "guild", c.Param("guild"))
	return domain.GuildID(id), ok
}

func userParam(c *gin.Context) (domain.UserID, bool) {
	id, ok := snowflake(c, "user", c.Param("user"))
	return domain.UserID(id), ok
}

func triggerQuery(c *gin.Context) (domain.ChannelID, bool) {
	id, ok := optionalSnowflake(c, "trigger_id", c.Query("trigger_id"))
	return domain.ChannelID(id), ok
}

func boolQuery(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request body").WithContext("reason", err.Error()))
		return false
	}
	return true
}
