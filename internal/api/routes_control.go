package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/towerlink/internal/command"
	"github.com/energizer-project/towerlink/internal/dispatch"
)

const maxCommandBody = 64 << 10

type commandParam struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Default any    `json:"default,omitempty"`
}

type commandInfo struct {
	ID        int            `json:"id"`
	Name      string         `json:"name"`
	Signature string         `json:"signature"`
	Params    []commandParam `json:"params"`
	Returns   string         `json:"returns"`
	Help      string         `json:"help,omitempty"`
}

// handleListCommands returns the command catalog.
func (s *Server) handleListCommands(c *gin.Context) {
	catalog := command.Catalog()
	out := make([]commandInfo, 0, len(catalog))
	for _, d := range catalog {
		info := commandInfo{
			ID:        int(d.ID),
			Name:      d.Name,
			Signature: d.Signature(),
			Params:    make([]commandParam, 0, len(d.Params)),
			Returns:   d.Returns.String(),
			Help:      d.Help,
		}
		for _, p := range d.Params {
			cp := commandParam{Name: p.Name, Type: p.Type.String()}
			if p.HasDefault {
				cp.Default = p.Default
			}
			info.Params = append(info.Params, cp)
		}
		out = append(out, info)
	}
	c.JSON(http.StatusOK, gin.H{"commands": out, "total": len(out)})
}

// handleCallCommand runs one game command. The body is a JSON array of
// positional arguments; an empty body means no arguments.
func (s *Server) handleCallCommand(c *gin.Context) {
	if s.deps.Invoker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not connected to the game"})
		return
	}

	desc, ok := command.LookupName(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown command", "command": c.Param("name")})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCommandBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	args, err := desc.ArgsFromJSON(body)
	if err != nil {
		resp := gin.H{"error": err.Error(), "command": desc.Name}
		var argErr *command.ArgError
		if errors.As(err, &argErr) {
			resp["status"] = argErr.Code.String()
		}
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	result, err := s.deps.Invoker.Invoke(c.Request.Context(), desc, args...)
	if err != nil {
		log.Info().Err(err).Str("command", desc.Name).Msg("API: command failed")
		c.JSON(httpStatus(err), errorBody(desc, err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"command": desc.Name,
		"outcome": dispatch.OutcomeDelivered.String(),
		"result":  result,
	})
}

func errorBody(desc *command.Descriptor, err error) gin.H {
	resp := gin.H{
		"command": desc.Name,
		"error":   err.Error(),
		"outcome": dispatch.Classify(err).String(),
	}
	var ce *dispatch.CommandError
	if errors.As(err, &ce) {
		resp["status"] = ce.Code.String()
		resp["kind"] = ce.Kind.String()
		resp["message"] = ce.Message
	}
	return resp
}

// httpStatus maps a command failure onto an HTTP status.
func httpStatus(err error) int {
	var ce *dispatch.CommandError
	if !errors.As(err, &ce) {
		return http.StatusInternalServerError
	}
	switch ce.Kind {
	case dispatch.KindValidation:
		return http.StatusBadRequest
	case dispatch.KindRejection:
		return http.StatusUnprocessableEntity
	case dispatch.KindProtocol, dispatch.KindCoercion:
		return http.StatusBadGateway
	case dispatch.KindRetryExhausted, dispatch.KindGatePollExhausted:
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}
