// conversation.go — conversation_messages 表 CRUD (会话事件持久化)。
//
// 平铺记录所有会话事件 (MESSAGE/PLAN/TOOL/STEP), 回放时由 transcript
// 包做工具-步骤归属重建。
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sandbox-agent/go-console/internal/transcript"
	apperrors "github.com/sandbox-agent/go-console/pkg/errors"
)

// ConversationMessage 一条持久化会话记录。
type ConversationMessage struct {
	ID             int64           `db:"id" json:"id"`
	ConversationID string          `db:"conversation_id" json:"conversationId"`
	EventType      string          `db:"event_type" json:"eventType"` // MESSAGE | PLAN | TOOL | STEP
	MessageType    string          `db:"message_type" json:"messageType"`
	Content        json.RawMessage `db:"content" json:"content"`
	CreatedTime    time.Time       `db:"created_time" json:"createdTime"`
}

// ToRecords 转为转写回放记录。
func ToRecords(msgs []ConversationMessage) []transcript.Record {
	records := make([]transcript.Record, len(msgs))
	for i, m := range msgs {
		records[i] = transcript.Record{
			ID:          m.ID,
			EventType:   m.EventType,
			MessageType: m.MessageType,
			Content:     m.Content,
			CreatedTime: m.CreatedTime,
		}
	}
	return records
}

// ConversationStore conversation_messages 存储。
type ConversationStore struct{ BaseStore }

// NewConversationStore 创建。
func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{NewBaseStore(pool)}
}

const cmCols = "id, conversation_id, event_type, message_type, content, created_time"

// Insert 写入单条记录并回填 ID。
func (s *ConversationStore) Insert(ctx context.Context, msg *ConversationMessage) error {
	if msg.CreatedTime.IsZero() {
		msg.CreatedTime = time.Now()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversation_messages (conversation_id, event_type, message_type, content, created_time)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		msg.ConversationID, msg.EventType, msg.MessageType, msg.Content, msg.CreatedTime).Scan(&msg.ID)
	if err != nil {
		return apperrors.Wrap(err, "store.conversation.insert", "写入会话记录失败")
	}
	return nil
}

// ListByConversation 按会话查询记录, 创建序升序 (回放顺序)。
//
//	after=0 → 从头开始; after>0 → id > after (游标分页)
func (s *ConversationStore) ListByConversation(ctx context.Context, conversationID string, limit int, after int64) ([]ConversationMessage, error) {
	qb := NewQueryBuilder().
		Eq("conversation_id", conversationID).
		GtInt64("id", after)
	sql, params := qb.Build("SELECT "+cmCols+" FROM conversation_messages", "id ASC", limit)

	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, apperrors.Wrap(err, "store.conversation.list", "查询会话记录失败")
	}
	items, err := collectRows[ConversationMessage](rows)
	if err != nil {
		return nil, apperrors.Wrap(err, "store.conversation.list", "查询会话记录失败")
	}
	return items, nil
}

// CountByConversation 统计某会话的记录总数。
func (s *ConversationStore) CountByConversation(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM conversation_messages WHERE conversation_id=$1", conversationID).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "store.conversation.count", "统计会话记录失败")
	}
	return count, nil
}

// SearchByKeyword 按关键词搜索某会话的记录 (内容列 LIKE)。
func (s *ConversationStore) SearchByKeyword(ctx context.Context, conversationID, keyword string, limit int) ([]ConversationMessage, error) {
	qb := NewQueryBuilder().
		Eq("conversation_id", conversationID).
		KeywordLike(keyword, "content::text")
	sql, params := qb.Build("SELECT "+cmCols+" FROM conversation_messages", "id ASC", limit)

	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, apperrors.Wrap(err, "store.conversation.search", "搜索会话记录失败")
	}
	items, err := collectRows[ConversationMessage](rows)
	if err != nil {
		return nil, apperrors.Wrap(err, "store.conversation.search", "搜索会话记录失败")
	}
	return items, nil
}

// DeleteByConversation 删除某会话的所有记录。
func (s *ConversationStore) DeleteByConversation(ctx context.Context, conversationID string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM conversation_messages WHERE conversation_id=$1", conversationID)
	if err != nil {
		return apperrors.Wrap(err, "store.conversation.delete", "删除会话记录失败")
	}
	return nil
}
