package natshandler

import (
	"context"
	"encoding/json"

	"texengine/model"

	"github.com/nats-io/nats.go"
	logrus "github.com/sirupsen/logrus"
)

// RenderSubject is the request/reply subject render requests arrive on.
const RenderSubject = "render.compile.request"

type Renderer interface {
	Render(ctx context.Context, document, sourceDir string) (*model.CompileResponse, error)
}

// HandleRenderRequest answers one render request. Every request with a reply
// subject gets a response, including malformed ones.
func HandleRenderRequest(msg *nats.Msg, nc *nats.Conn, svc Renderer) {
	resData := handle(msg.Data, svc)
	if msg.Reply == "" {
		return
	}
	// Send response back to the requester
	if err := nc.Publish(msg.Reply, resData); err != nil {
		logrus.WithError(err).Error("Failed to publish render response")
	}
}

func handle(data []byte, svc Renderer) []byte {
	var req model.CompileMessage
	if err := json.Unmarshal(data, &req); err != nil {
		logrus.WithError(err).Warn("Failed to parse render request")
		return encode(&model.CompileResponse{
			Success:       false,
			Error:         "malformed request",
			StatusMessage: "Failed to parse request",
		})
	}

	res, err := svc.Render(context.Background(), req.Document, req.SourceDir)
	if err != nil {
		logrus.WithError(err).Error("Failed to render document")
		return encode(&model.CompileResponse{
			Success:       false,
			Error:         err.Error(),
			StatusMessage: "Render not completed",
		})
	}
	return encode(res)
}

func encode(res *model.CompileResponse) []byte {
	resData, err := json.Marshal(res)
	if err != nil {
		logrus.WithError(err).Error("Failed to encode render response")
		return []byte(`{"success":false,"status_message":"Internal error"}`)
	}
	return resData
}
