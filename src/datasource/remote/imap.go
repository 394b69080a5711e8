// imap.go
package remote

import (
	// 标准库导入
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/url"
	"path"
	"slices"
	"sort"
	"strings"
	"time"

	// 第三方库导入
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

/******************** 常量定义 ********************/
const (
	MaxFetchMessages = 100 // 单次最大获取邮件数量，防止内存溢出
	FetchBufferSize  = 10  // 邮件获取通道缓冲区大小
)

// ErrNoAttachment 邮箱中没有符合条件的数据附件
var ErrNoAttachment = errors.New("没有找到符合条件的数据附件")

// 可作为数据的附件扩展名
var attachmentExts = []string{".csv", ".gz", ".xlsx"}

/******************** 数据结构 ********************/

// IMAPOptions 邮箱数据源参数，地址中未给出的项从这里取
type IMAPOptions struct {
	Username           string
	Password           string        // 密码/授权码
	Subject            string        // 主题关键词，为空表示不过滤
	Since              time.Duration // 只查找该时间内的邮件，0 表示不限制
	InsecureSkipVerify bool
}

// Message 邮件基础数据
type Message struct {
	UID         uint32    // 邮件唯一标识符(IMAP UID)
	Date        time.Time // 邮件发送时间
	From        string    // 发件人信息(已解码)
	Subject     string    // 邮件主题(已解码)
	Attachments []*Attachment
}

// Attachment 邮件附件
type Attachment struct {
	Filename string // 附件文件名(已解码)
	Content  []byte // 附件二进制内容
}

// attachmentReader 附件内容，Name 返回附件文件名供格式判断
type attachmentReader struct {
	*bytes.Reader
	name string
}

func (a *attachmentReader) Name() string { return a.name }

func (a *attachmentReader) Close() error { return nil }

/******************** 邮箱数据源 ********************/

// IMAPSource 取邮箱中最新一封匹配邮件的数据附件
// 地址格式: imaps://user@imap.example.com:993/INBOX?subject=uber&since=72h
type IMAPSource struct {
	location string
	addr     string
	useTLS   bool
	mailbox  string
	opts     IMAPOptions

	// fetch 拉取候选邮件，测试时替换
	fetch func(ctx context.Context) ([]*Message, error)
}

// NewIMAPSource 解析邮箱地址
// 参数:
//
//	location: imap:// 或 imaps:// 地址，路径为邮箱名(默认INBOX)
//	opts: 账号、密码及过滤条件
//
// 返回值:
//
//	*IMAPSource: 数据源
//	error: 地址格式错误
func NewIMAPSource(location string, opts IMAPOptions) (*IMAPSource, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("无效的邮箱地址 %q: %w", location, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("无效的邮箱地址 %q: 缺少服务器", location)
	}

	s := &IMAPSource{
		addr:    u.Host,
		useTLS:  u.Scheme == "imaps",
		mailbox: strings.Trim(u.Path, "/"),
		opts:    opts,
	}
	if s.mailbox == "" {
		s.mailbox = "INBOX"
	}
	if u.Port() == "" {
		port := "143"
		if s.useTLS {
			port = "993"
		}
		s.addr = net.JoinHostPort(u.Hostname(), port)
	}

	if u.User != nil {
		s.opts.Username = u.User.Username()
		if p, ok := u.User.Password(); ok {
			s.opts.Password = p
		}
	}
	q := u.Query()
	if v := q.Get("subject"); v != "" {
		s.opts.Subject = v
	}
	if v := q.Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("无效的 since 参数 %q: %w", v, err)
		}
		s.opts.Since = d
	}

	// 日志中不出现密码
	u.User = nil
	if s.opts.Username != "" {
		u.User = url.User(s.opts.Username)
	}
	s.location = u.String()
	s.fetch = s.fetchIMAP
	return s, nil
}

func (s *IMAPSource) Location() string { return s.location }

// Open 返回最新匹配邮件中的第一个数据附件
func (s *IMAPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	msgs, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	att := latestAttachment(msgs, s.opts.Subject)
	if att == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoAttachment, s.location)
	}
	return &attachmentReader{Reader: bytes.NewReader(att.Content), name: att.Filename}, nil
}

// fetchIMAP 连接服务器并获取候选邮件
// 实现流程:
// 1. 建立连接并登录
// 2. 以只读方式选择邮箱
// 3. 按时间范围搜索，只取最新的 MaxFetchMessages 封
// 4. 获取并解析邮件内容
func (s *IMAPSource) fetchIMAP(ctx context.Context) ([]*Message, error) {
	c, err := s.dial()
	if err != nil {
		return nil, fmt.Errorf("连接服务器失败: %w", err)
	}
	// ctx 结束时强制断开，阻塞中的命令随之返回
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()
	defer c.Logout()

	msgs, err := s.search(c)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return msgs, err
}

func (s *IMAPSource) dial() (*client.Client, error) {
	if !s.useTLS {
		return client.Dial(s.addr)
	}
	host, _, err := net.SplitHostPort(s.addr)
	if err != nil {
		host = s.addr
	}
	return client.DialTLS(s.addr, &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: s.opts.InsecureSkipVerify, //nolint:gosec
	})
}

func (s *IMAPSource) search(c *client.Client) ([]*Message, error) {
	if err := c.Login(s.opts.Username, s.opts.Password); err != nil {
		return nil, fmt.Errorf("登录失败: %w", err)
	}
	if _, err := c.Select(s.mailbox, true); err != nil {
		return nil, fmt.Errorf("选择邮箱失败: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	if s.opts.Since > 0 {
		criteria.Since = time.Now().Add(-s.opts.Since)
	}
	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("搜索邮件失败: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// 序号递增，保留最新的部分
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > MaxFetchMessages {
		ids = ids[len(ids)-MaxFetchMessages:]
	}
	return fetchMessages(c, ids)
}

// fetchMessages 获取指定序号的邮件内容
func fetchMessages(c *client.Client, ids []uint32) ([]*Message, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchInternalDate,
		imap.FetchUid,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, FetchBufferSize)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var out []*Message
	for msg := range messages {
		r := msg.GetBody(section)
		if r == nil {
			continue
		}
		m, err := ParseMessage(r)
		if err != nil {
			continue
		}
		m.UID = msg.Uid
		if m.Date.IsZero() {
			m.Date = msg.InternalDate
		}
		out = append(out, m)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("获取邮件内容失败: %w", err)
	}
	return out, nil
}

/******************** 邮件解析相关 ********************/

// ParseMessage 解析邮件头和附件
func ParseMessage(r io.Reader) (*Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("创建邮件阅读器失败: %w", err)
	}

	header := mr.Header
	date, _ := header.Date() // 日期解析错误不影响后续处理

	m := &Message{
		Date:    date,
		From:    decodeHeader(header.Get("From")),
		Subject: decodeHeader(header.Get("Subject")),
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("读取邮件内容失败: %w", err)
		}

		h, ok := p.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		filename, err := h.Filename()
		if err != nil || filename == "" {
			continue
		}
		content, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("读取附件内容失败: %w", err)
		}
		m.Attachments = append(m.Attachments, &Attachment{
			Filename: decodeHeader(filename),
			Content:  content,
		})
	}
	return m, nil
}

// latestAttachment 主题包含 keyword 的最新邮件中的第一个数据附件
func latestAttachment(msgs []*Message, keyword string) *Attachment {
	var matched []*Message
	for _, m := range msgs {
		if strings.Contains(m.Subject, keyword) {
			matched = append(matched, m)
		}
	}

	// 按日期降序排序
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Date.After(matched[j].Date)
	})

	for _, m := range matched {
		for _, a := range m.Attachments {
			if slices.Contains(attachmentExts, strings.ToLower(path.Ext(a.Filename))) {
				return a
			}
		}
	}
	return nil
}

/******************** 工具函数 ********************/

// decodeHeader 解码邮件头特殊编码
// 支持格式: =?charset?encoding?encoded-text?=
func decodeHeader(header string) string {
	decoder := mime.WordDecoder{
		CharsetReader: charsetReader,
	}

	decoded, err := decoder.DecodeHeader(header)
	if err != nil {
		return header // 解码失败返回原始内容
	}
	return decoded
}

// charsetReader 支持GBK/GB2312转UTF-8
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "gbk", "gb2312":
		return transform.NewReader(input, simplifiedchinese.GBK.NewDecoder()), nil
	default:
		return input, nil // 其他编码原样返回
	}
}
