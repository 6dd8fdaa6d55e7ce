package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/mdobak/go-xerrors"

	"tremorwatch/models"
)

type socketController struct {
	monitor *monitor
}

func newSocketController(m *monitor) *socketController {
	return &socketController{monitor: m}
}

func emitError(socket socketio.Conn, message string) {
	socket.Emit("analysisError", map[string]string{"message": message})
}

// decodeSamples accepts either a sample batch or a single sample.
func decodeSamples(payload string) (models.SampleBatch, error) {
	var batch models.SampleBatch
	if err := json.Unmarshal([]byte(payload), &batch); err != nil {
		return models.SampleBatch{}, err
	}
	if len(batch.Samples) > 0 {
		return batch, nil
	}
	var sample models.MotionSample
	if err := json.Unmarshal([]byte(payload), &sample); err != nil {
		return models.SampleBatch{}, err
	}
	if sample.Sensor == "" {
		return models.SampleBatch{}, errors.New("payload carries no samples")
	}
	batch.Samples = []models.MotionSample{sample}
	return batch, nil
}

func (c *socketController) handleMotionSample(socket socketio.Conn, payload string) {
	if payload == "" {
		emitError(socket, "no sample data received")
		return
	}
	batch, err := decodeSamples(payload)
	if err != nil {
		err := xerrors.New(err)
		c.monitor.logger.ErrorContext(context.Background(), "failed to parse motion sample", slog.String("socketID", socket.ID()), slog.Any("error", err))
		emitError(socket, "invalid sample payload")
		return
	}
	result := c.monitor.ingest(batch)
	if result.Rejected > 0 {
		emitError(socket, "some samples were rejected as non-finite or of unknown sensor type")
	}
}

func (c *socketController) handleStartCalibration(socket socketio.Conn) {
	progress, err := c.monitor.startCalibration()
	if err != nil {
		emitError(socket, err.Error())
		return
	}
	socket.Emit("calibrationProgress", progress)
}

func (c *socketController) handleCancelCalibration(socket socketio.Conn) {
	if _, err := c.monitor.cancelCalibration(); err != nil {
		emitError(socket, err.Error())
	}
}

func newSocketServer(c *socketController) *socketio.Server {
	var allowOriginFunc = func(r *http.Request) bool {
		return true
	}

	server := socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: allowOriginFunc,
			},
			&polling.Transport{
				CheckOrigin: allowOriginFunc,
			},
		},
	})

	server.OnConnect("/", func(socket socketio.Conn) error {
		socket.SetContext("")
		log.Printf("CONNECTED: %s, remote addr: %s\n", socket.ID(), socket.RemoteAddr())
		socket.Emit("session", map[string]string{"sessionId": c.monitor.engine.SessionID()})
		return nil
	})

	server.OnEvent("/", "motionSample", func(socket socketio.Conn, msg string) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("panic in handleMotionSample for socket %s: %v\n", socket.ID(), r)
				emitError(socket, "internal server error during processing")
			}
		}()
		c.handleMotionSample(socket, msg)
	})

	server.OnEvent("/", "startCalibration", func(socket socketio.Conn) {
		log.Printf("startCalibration received from %s\n", socket.ID())
		c.handleStartCalibration(socket)
	})

	server.OnEvent("/", "cancelCalibration", func(socket socketio.Conn) {
		log.Printf("cancelCalibration received from %s\n", socket.ID())
		c.handleCancelCalibration(socket)
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		log.Println("meet error:", e)
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Printf("Socket disconnected - ID: %s, Reason: %s\n", s.ID(), reason)
	})

	return server
}
