package service

import (
	"sort"
	"sync"

	"github.com/Wyydra/learnloop/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// Member is one socket connection inside a call room.
type Member struct {
	ClientID domain.ClientID
	UserID   domain.UserID
}

type RoomInfo struct {
	ID      domain.RoomID `json:"id"`
	Members int           `json:"members"`
}

// RoomService tracks which connections are in which call room.
type RoomService struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[domain.ClientID]domain.UserID
}

func NewRoomService() *RoomService {
	return &RoomService{
		rooms: make(map[domain.RoomID]map[domain.ClientID]domain.UserID),
	}
}

// Join adds a connection to a room and returns the members that were
// already there. Joining twice is a no-op.
func (s *RoomService) Join(roomID domain.RoomID, m Member) []Member {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[roomID]
	if !ok {
		members = make(map[domain.ClientID]domain.UserID)
		s.rooms[roomID] = members
	}
	others := make([]Member, 0, len(members))
	for id, user := range members {
		if id != m.ClientID {
			others = append(others, Member{ClientID: id, UserID: user})
		}
	}
	members[m.ClientID] = m.UserID
	log.Info().Int("count", len(members)).Str("room_id", roomID.String()).Str("client_id", m.ClientID.String()).Msg("Client joined room")
	return others
}

// Leave removes a connection and reports whether it was a member. Empty rooms
// are dropped.
func (s *RoomService) Leave(roomID domain.RoomID, clientID domain.ClientID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaveLocked(roomID, clientID)
}

func (s *RoomService) leaveLocked(roomID domain.RoomID, clientID domain.ClientID) bool {
	members, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := members[clientID]; !ok {
		return false
	}
	delete(members, clientID)
	log.Info().Int("count", len(members)).Str("room_id", roomID.String()).Str("client_id", clientID.String()).Msg("Client left room")
	if len(members) == 0 {
		delete(s.rooms, roomID)
	}
	return true
}

// LeaveAll removes a connection from every room it is in.
func (s *RoomService) LeaveAll(clientID domain.ClientID) []domain.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var left []domain.RoomID
	for roomID := range s.rooms {
		if s.leaveLocked(roomID, clientID) {
			left = append(left, roomID)
		}
	}
	return left
}

func (s *RoomService) Members(roomID domain.RoomID) []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := s.rooms[roomID]
	out := make([]Member, 0, len(members))
	for id, user := range members {
		out = append(out, Member{ClientID: id, UserID: user})
	}
	return out
}

func (s *RoomService) IsMember(roomID domain.RoomID, clientID domain.ClientID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID][clientID]
	return ok
}

// Contains reports whether any connection of the user is in the room.
func (s *RoomService) Contains(roomID domain.RoomID, userID domain.UserID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.rooms[roomID] {
		if user == userID {
			return true
		}
	}
	return false
}

func (s *RoomService) Rooms() []RoomInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RoomInfo, 0, len(s.rooms))
	for id, members := range s.rooms {
		out = append(out, RoomInfo{ID: id, Members: len(members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
