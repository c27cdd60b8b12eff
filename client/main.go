package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfunc/triviaserver/models"
	"github.com/wfunc/triviaserver/network"
)

const usage = `commands:
  hello <name> [playerId] [roomCode]   identify, optionally resuming a room
  create <amount> [difficulty]         create a room
  join <code>                          join a room
  leave | start | advance              room commands
  answer <n|text>                      answer the current question
  solo <amount> [difficulty]           start a single-player game
  sanswer <n|text> | sadvance          single-player commands
  categories | scores                  provider categories and the leaderboard
  quit`

// the question on screen, for answering by number
var (
	current      []string
	currentIndex int
	mutex        sync.Mutex
)

// gorilla connections allow one concurrent writer
var writeMutex sync.Mutex

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	packet, err := network.Encode(msgID, data)
	if err != nil {
		return err
	}
	writeMutex.Lock()
	defer writeMutex.Unlock()
	return c.WriteMessage(websocket.BinaryMessage, packet)
}

func showView(prefix string, v models.RoomView) {
	fmt.Printf("%s room=%s state=%s question=%d/%d host=%s\n", prefix, v.RoomCode, v.GameState, v.CurrentQuestionIndex+1, v.TotalQuestions, v.HostID)
	for _, p := range v.Players {
		fmt.Printf("   %-20s %3d  answered=%v %s\n", p.DisplayName, p.Score, v.Answered[p.ID], v.Answers[p.ID])
	}
	if v.Question == nil {
		return
	}
	fmt.Printf("   [%s] %s\n", v.Question.Category, v.Question.Prompt)
	for i, o := range v.Question.Options {
		marker := " "
		if o == v.Question.CorrectAnswer {
			marker = "*"
		}
		fmt.Printf("   %s %d) %s\n", marker, i+1, o)
	}
	mutex.Lock()
	current = v.Question.Options
	currentIndex = v.CurrentQuestionIndex
	mutex.Unlock()
}

func show(packet *network.Packet) {
	switch packet.MsgID {
	case network.MsgTypeRoomState:
		var v models.RoomView
		if err := json.Unmarshal(packet.Data, &v); err == nil {
			showView("<- ROOM", v)
			return
		}
	case network.MsgTypeSoloState:
		var s network.SoloStatePayload
		if err := json.Unmarshal(packet.Data, &s); err == nil {
			if s.Correct != nil {
				fmt.Printf("<- correct=%v\n", *s.Correct)
			}
			showView("<- SOLO", s.View)
			if s.Result != nil {
				fmt.Printf("<- final score %d/%d\n", s.Result.Score, s.Result.Total)
			}
			return
		}
	case network.MsgTypeError:
		var e network.ErrorPayload
		if err := json.Unmarshal(packet.Data, &e); err == nil {
			fmt.Printf("<- ERROR %s (request %d): %s\n", e.Code, e.Request, e.Message)
			return
		}
	}
	fmt.Printf("<- RECV (ID: %d): %s\n", packet.MsgID, packet.Data)
}

// answerText turns "2" into the second option on screen.
func answerText(arg string) string {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return arg
	}
	mutex.Lock()
	defer mutex.Unlock()
	if n >= 1 && n <= len(current) {
		return current[n-1]
	}
	return arg
}

func settings(args []string) models.Settings {
	s := models.Settings{Amount: 10}
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil {
			s.Amount = n
		}
	}
	if len(args) > 1 {
		s.Difficulty = args[1]
	}
	return s
}

func command(c *websocket.Conn, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch fields[0] {
	case "hello":
		req := network.HelloRequest{}
		if len(args) > 0 {
			req.DisplayName = args[0]
		}
		if len(args) > 1 {
			req.PlayerID = args[1]
		}
		if len(args) > 2 {
			req.RoomCode = args[2]
		}
		return send(c, network.MsgTypeHello, req)
	case "create":
		return send(c, network.MsgTypeCreateRoom, network.CreateRoomRequest{Settings: settings(args)})
	case "join":
		return send(c, network.MsgTypeJoinRoom, network.JoinRoomRequest{RoomCode: rest})
	case "leave":
		return send(c, network.MsgTypeLeaveRoom, nil)
	case "start":
		return send(c, network.MsgTypeStartGame, nil)
	case "answer":
		mutex.Lock()
		index := currentIndex
		mutex.Unlock()
		return send(c, network.MsgTypeSubmitAnswer, network.AnswerRequest{QuestionIndex: index, Answer: answerText(rest)})
	case "advance":
		return send(c, network.MsgTypeAdvance, nil)
	case "solo":
		return send(c, network.MsgTypeSoloStart, network.SoloStartRequest{Settings: settings(args)})
	case "sanswer":
		return send(c, network.MsgTypeSoloAnswer, network.AnswerRequest{Answer: answerText(rest)})
	case "sadvance":
		return send(c, network.MsgTypeSoloAdvance, nil)
	case "categories":
		return send(c, network.MsgTypeCategories, nil)
	case "scores":
		return send(c, network.MsgTypeHighScores, network.HighScoresRequest{Limit: 10})
	default:
		fmt.Println(usage)
	}
	return nil
}

func main() {
	addr := flag.String("addr", "localhost:8080", "server address")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			packet, err := network.Decode(message)
			if err != nil {
				log.Printf("Received invalid packet of size %d", len(message))
				continue
			}
			show(packet)
		}
	}()

	// Heartbeat
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := send(c, network.MsgTypeHeartbeat, nil); err != nil {
					return
				}
			}
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println(usage)
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			writeMutex.Lock()
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			writeMutex.Unlock()
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "quit" {
				return
			}
			if err := command(c, line); err != nil {
				log.Println("Write error:", err)
				return
			}
		}
	}
}
