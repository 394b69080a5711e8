package datapush

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/jordan-wright/email"

	"UberPickups/src/processor"
)

// 重试参数
const (
	RetryTimes    = 3
	RetryInterval = 2 * time.Second
)

// ErrNoRecipients 没有配置收件人
var ErrNoRecipients = errors.New("没有配置收件人")

// Report 某一小时的上车统计报表
type Report struct {
	Subject        string
	Hour           int
	Histogram      processor.Histogram
	Count          int // 该小时的记录数
	Centroid       processor.Point
	Attachment     []byte // xlsx 内容，可为空
	AttachmentName string
}

// Body 报表正文
func (r Report) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Uber pickups in NYC\n\n")
	fmt.Fprintf(&b, "共 %d 条记录，%d:00 有 %d 条\n", r.Histogram.Total(), r.Hour, r.Count)
	if r.Centroid.IsNaN() {
		fmt.Fprintf(&b, "该小时没有上车记录\n")
	} else {
		fmt.Fprintf(&b, "中心点: %.5f, %.5f\n", r.Centroid.Lat, r.Centroid.Lon)
	}
	fmt.Fprintf(&b, "\n每小时上车次数:\n")
	for hour, count := range r.Histogram.Counts {
		fmt.Fprintf(&b, "%02d:00  %d\n", hour, count)
	}
	return b.String()
}

// sendFunc 与 email.Email.SendWithTLS 签名一致，测试时替换
type sendFunc func(e *email.Email, addr string, a smtp.Auth, t *tls.Config) error

// Mailer 通过SMTP(显式TLS)发送报表
type Mailer struct {
	server   string
	username string
	password string
	to       []string
	send     sendFunc
	interval time.Duration
}

// NewMailer 创建发件器
// 参数:
//
//	server: SMTP服务器地址，不带端口时使用465
//	username: 发件邮箱
//	password: 密码/授权码
//	to: 收件人
func NewMailer(server, username, password string, to []string) *Mailer {
	if !strings.Contains(server, ":") {
		server += ":465" // 默认 SSL 端口
	}
	return &Mailer{
		server:   server,
		username: username,
		password: password,
		to:       to,
		send:     (*email.Email).SendWithTLS,
		interval: RetryInterval,
	}
}

// Build 组装邮件
func (m *Mailer) Build(r Report) (*email.Email, error) {
	if len(m.to) == 0 {
		return nil, ErrNoRecipients
	}

	e := email.NewEmail()
	e.From = fmt.Sprintf("UberPickups <%s>", m.username)
	e.To = m.to
	e.Subject = r.Subject
	e.Text = []byte(r.Body())

	if len(r.Attachment) > 0 {
		name := r.AttachmentName
		if name == "" {
			name = "uber-pickups.xlsx"
		}
		if _, err := e.Attach(bytes.NewReader(r.Attachment), name,
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"); err != nil {
			return nil, fmt.Errorf("附件添加失败: %w", err)
		}
	}
	return e, nil
}

// Send 发送报表，失败时重试
func (m *Mailer) Send(r Report) error {
	e, err := m.Build(r)
	if err != nil {
		return err
	}

	host := strings.Split(m.server, ":")[0]
	auth := smtp.PlainAuth("", m.username, m.password, host)
	return retry(func() error {
		return m.send(e, m.server, auth, &tls.Config{ServerName: host})
	}, RetryTimes, m.interval)
}

func retry(fn func() error, times int, interval time.Duration) error {
	var err error
	for i := 0; i < times; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < times-1 {
			time.Sleep(interval)
		}
	}
	return fmt.Errorf("重试 %d 次后失败: %w", times, err)
}
