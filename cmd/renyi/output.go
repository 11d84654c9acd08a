package main

import (
	"net/http"
	"sync"

	"github.com/gorgonia/renyi"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// multiEncoder hands every snapshot to all of its encoders.
type multiEncoder []renyi.OutputEncoder

func (m multiEncoder) Encode(s renyi.Snapshot) error {
	for _, enc := range m {
		if err := enc.Encode(s); err != nil {
			return err
		}
	}
	return nil
}

func (m multiEncoder) Flush() error {
	for _, enc := range m {
		if err := enc.Flush(); err != nil {
			return err
		}
	}
	return nil
}

type info struct {
	Name  string  `json:"name"`
	Epoch int     `json:"epoch"`
	Mode  string  `json:"mode"`
	Loss  float32 `json:"loss"`
	ESS   float32 `json:"ess"`
}

var upgrader = websocket.Upgrader{} // use default options

// progress pushes the losses of every snapshot to the connected websockets as JSON.
type progress struct {
	sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newProgress() *progress { return &progress{conns: make(map[*websocket.Conn]struct{})} }

func (p *progress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("upgrade")
		return
	}
	p.Lock()
	p.conns[c] = struct{}{}
	p.Unlock()

	// nothing is read; the loop only notices the client leaving
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
	p.drop(c)
}

func (p *progress) drop(c *websocket.Conn) {
	p.Lock()
	delete(p.conns, c)
	p.Unlock()
	c.Close()
}

func (p *progress) Encode(s renyi.Snapshot) error {
	msg := info{
		Name:  s.Name,
		Epoch: s.Epoch,
		Mode:  s.Mode.String(),
		Loss:  s.Loss,
		ESS:   s.ESS,
	}
	p.Lock()
	var dead []*websocket.Conn
	for c := range p.conns {
		if err := c.WriteJSON(msg); err != nil {
			log.Debug().Err(err).Msg("write")
			dead = append(dead, c)
		}
	}
	p.Unlock()
	for _, c := range dead {
		p.drop(c)
	}
	return nil
}

func (p *progress) Flush() error { return nil }
