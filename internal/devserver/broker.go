package devserver

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/sayhello/pairchat/internal/protocol"
)

// client is one websocket participant. The id is assigned at connect time and
// is what the protocol exposes as senderId.
type client struct {
	id           string
	conn         net.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	// guarded by the broker lock
	name   string
	joined bool
	room   *room
}

// write sends one text frame, serialized per connection.
func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return wsutil.WriteServerMessage(c.conn, ws.OpText, data)
}

func (c *client) send(event string, payload interface{}) {
	data, err := protocol.NewEvent(event, payload)
	if err != nil {
		log.Printf("devserver: encode %q: %v", event, err)
		return
	}
	if err := c.write(data); err != nil {
		log.Printf("devserver: write %q to %s: %v", event, c.id, err)
	}
}

// room is a two-slot pairing. One slot may be empty while a partner is
// awaited; the slot survives a partner leaving, so the remaining client is
// re-pairable without a fresh token.
type room struct {
	a, b      *client
	reactions map[string]map[string][]string // message id -> symbol -> names
}

func (r *room) partnerOf(c *client) *client {
	if r.a == c {
		return r.b
	}
	return r.a
}

func (r *room) members() []*client {
	var out []*client
	if r.a != nil {
		out = append(out, r.a)
	}
	if r.b != nil {
		out = append(out, r.b)
	}
	return out
}

// broker owns all pairing state: the connected client set, the single
// waiting slot, and per-room reaction state.
type broker struct {
	writeTimeout time.Duration

	mu      sync.Mutex
	clients map[string]*client
	waiting *client
}

func newBroker(writeTimeout time.Duration) *broker {
	return &broker{
		writeTimeout: writeTimeout,
		clients:      make(map[string]*client),
	}
}

func (b *broker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// handle processes one inbound frame. It returns false when the connection
// should be dropped: a protocol violation before join, or an explicit leave.
func (b *broker) handle(c *client, data []byte, consumeToken func(string) (string, bool)) bool {
	name, evt, err := protocol.ParseClientEvent(data)
	if err != nil {
		log.Printf("devserver: dropping malformed frame from %s: %v", c.id, err)
		return true
	}

	b.mu.Lock()
	joined := c.joined
	b.mu.Unlock()

	if !joined {
		join, ok := evt.(protocol.JoinEvent)
		if !ok {
			log.Printf("devserver: %s sent %q before join", c.id, name)
			return false
		}
		displayName, ok := consumeToken(join.Token)
		if !ok {
			log.Printf("devserver: %s joined with invalid token", c.id)
			return false
		}
		b.join(c, displayName)
		return true
	}

	switch e := evt.(type) {
	case protocol.LeaveEvent:
		return false
	case protocol.SendMessageEvent:
		b.relayMessage(c, e)
	case protocol.SendVoiceEvent:
		b.relayVoice(c, e)
	case protocol.TypingEvent:
		b.toPartner(c, protocol.EventTyping, protocol.TypingEvent{})
	case protocol.RecordingEvent:
		b.relayRecording(c, name)
	case protocol.ReactEvent:
		b.applyReaction(c, e)
	default:
		log.Printf("devserver: unhandled client event %q from %s", name, c.id)
	}
	return true
}

// join admits an authenticated client: pair with the waiting slot if one
// exists, otherwise become the waiting slot.
func (b *broker) join(c *client, displayName string) {
	b.mu.Lock()
	c.name = displayName
	c.joined = true
	b.clients[c.id] = c

	if b.waiting == nil {
		b.waiting = c
		b.mu.Unlock()

		c.send(protocol.EventWaiting, protocol.WaitingEvent{SelfID: c.id})
		b.broadcastUserCount()
		return
	}

	partner := b.waiting
	b.waiting = nil
	r := &room{a: partner, b: c, reactions: make(map[string]map[string][]string)}
	partner.room = r
	c.room = r
	b.mu.Unlock()

	partner.send(protocol.EventConnected, protocol.ConnectedEvent{SelfID: partner.id, RoomSize: 2})
	c.send(protocol.EventConnected, protocol.ConnectedEvent{SelfID: c.id, RoomSize: 2})
	b.broadcastUserCount()

	log.Printf("devserver: paired %s and %s", partner.id, c.id)
}

// disconnect tears a client down: the partner, if any, is told the partner
// left and is moved back into the pairing pool with its room slot intact.
func (b *broker) disconnect(c *client) {
	c.conn.Close()

	b.mu.Lock()
	if _, ok := b.clients[c.id]; !ok && !c.joined {
		b.mu.Unlock()
		return
	}
	delete(b.clients, c.id)
	if b.waiting == c {
		b.waiting = nil
	}

	var partner *client
	if c.room != nil {
		partner = c.room.partnerOf(c)
		c.room = nil
	}
	if partner != nil {
		partner.room = nil
	}
	b.mu.Unlock()

	if partner != nil {
		partner.send(protocol.EventPartnerLeft, protocol.PartnerLeftEvent{})
		b.requeue(partner)
	}
	b.broadcastUserCount()
}

// requeue puts a partnerless client back into the pairing pool without a new
// token: pair immediately if someone is waiting, otherwise take the slot.
func (b *broker) requeue(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c.id]; !ok {
		b.mu.Unlock()
		return
	}
	if b.waiting == nil || b.waiting == c {
		b.waiting = c
		b.mu.Unlock()
		return
	}

	partner := b.waiting
	b.waiting = nil
	r := &room{a: partner, b: c, reactions: make(map[string]map[string][]string)}
	partner.room = r
	c.room = r
	b.mu.Unlock()

	partner.send(protocol.EventConnected, protocol.ConnectedEvent{SelfID: partner.id, RoomSize: 2})
	c.send(protocol.EventConnected, protocol.ConnectedEvent{SelfID: c.id, RoomSize: 2})
}

// relayMessage fans a text message out to the whole room, sender included.
// The sender's copy is the echo its log deduplicates by id.
func (b *broker) relayMessage(c *client, e protocol.SendMessageEvent) {
	msg := protocol.NewMessageEvent{
		ID:         e.ID,
		SenderID:   c.id,
		SenderName: c.name,
		Text:       e.Text,
		Time:       time.Now().UTC().Format(time.RFC3339),
	}
	for _, m := range b.roomMembers(c) {
		m.send(protocol.EventNewMessage, msg)
	}
}

func (b *broker) relayVoice(c *client, e protocol.SendVoiceEvent) {
	msg := protocol.NewVoiceEvent{
		ID:         e.ID,
		SenderID:   c.id,
		SenderName: c.name,
		URL:        e.URL,
		Duration:   e.Duration,
		Time:       time.Now().UTC().Format(time.RFC3339),
	}
	for _, m := range b.roomMembers(c) {
		m.send(protocol.EventNewVoice, msg)
	}
}

// relayRecording maps the four lifecycle signals onto the partner's boolean
// keep-alive: start and resume pulse true, pause and stop send false.
func (b *broker) relayRecording(c *client, event string) {
	recording := event == protocol.EventStartRecording || event == protocol.EventResumeRecording
	b.toPartner(c, protocol.EventPartnerRecording, protocol.PartnerRecordingEvent{Recording: recording})
}

// applyReaction toggles membership and fans out the message's whole reaction
// state. Sending the full map keeps both sides converged even if an earlier
// event was lost.
func (b *broker) applyReaction(c *client, e protocol.ReactEvent) {
	b.mu.Lock()
	r := c.room
	if r == nil {
		b.mu.Unlock()
		return
	}

	byMsg := r.reactions[e.MessageID]
	if byMsg == nil {
		byMsg = make(map[string][]string)
		r.reactions[e.MessageID] = byMsg
	}
	members := byMsg[e.Reaction]
	toggledOff := false
	for i, who := range members {
		if who == e.Sender {
			byMsg[e.Reaction] = append(members[:i], members[i+1:]...)
			if len(byMsg[e.Reaction]) == 0 {
				delete(byMsg, e.Reaction)
			}
			toggledOff = true
			break
		}
	}
	if !toggledOff {
		byMsg[e.Reaction] = append(members, e.Sender)
	}

	state := make(map[string][]string, len(byMsg))
	for sym, names := range byMsg {
		state[sym] = append([]string(nil), names...)
	}
	targets := r.members()
	b.mu.Unlock()

	msg := protocol.NewReactionEvent{MessageID: e.MessageID, Reactions: state}
	for _, m := range targets {
		m.send(protocol.EventNewReaction, msg)
	}
}

func (b *broker) toPartner(c *client, event string, payload interface{}) {
	b.mu.Lock()
	var partner *client
	if c.room != nil {
		partner = c.room.partnerOf(c)
	}
	b.mu.Unlock()

	if partner != nil {
		partner.send(event, payload)
	}
}

func (b *broker) roomMembers(c *client) []*client {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.room == nil {
		return nil
	}
	return c.room.members()
}

// broadcastUserCount pushes the online count to every connected client.
func (b *broker) broadcastUserCount() {
	b.mu.Lock()
	count := len(b.clients)
	targets := make([]*client, 0, count)
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, c := range targets {
		c.send(protocol.EventUserCount, protocol.UserCountEvent{Count: count})
	}
}
