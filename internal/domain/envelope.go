package domain

// Envelope 保存一次 SMTP 传输在 DATA 之前确定的发件人与收件人。
//
// Recipients 以规范化地址去重，order 记录接受顺序，保证落库顺序稳定。
type Envelope struct {
	From       string
	Recipients map[string]Mailbox
	order      []string
}

// NewEnvelope 创建空信封。
func NewEnvelope() *Envelope {
	return &Envelope{Recipients: make(map[string]Mailbox)}
}

// Has 判断地址是否已被接受。
func (e *Envelope) Has(address string) bool {
	_, ok := e.Recipients[address]
	return ok
}

// Add 记录一个已解析的收件人，重复地址只保留第一次的快照。
func (e *Envelope) Add(address string, mailbox Mailbox) {
	if e.Recipients == nil {
		e.Recipients = make(map[string]Mailbox)
	}
	if _, ok := e.Recipients[address]; ok {
		return
	}
	e.Recipients[address] = mailbox
	e.order = append(e.order, address)
}

// Len 返回已接受的收件人数量。
func (e *Envelope) Len() int {
	return len(e.Recipients)
}

// Mailboxes 按接受顺序返回收件人快照。
func (e *Envelope) Mailboxes() []Mailbox {
	out := make([]Mailbox, 0, len(e.order))
	for _, addr := range e.order {
		out = append(out, e.Recipients[addr])
	}
	return out
}

// Reset 清空信封，供 RSET 或一次传输结束后复用。
func (e *Envelope) Reset() {
	e.From = ""
	e.Recipients = make(map[string]Mailbox)
	e.order = nil
}
